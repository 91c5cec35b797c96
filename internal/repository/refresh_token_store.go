package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dhr/workerauth/internal/models"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenReused   = errors.New("refresh token already revoked")
)

// RefreshTokenStore tracks issued refresh tokens so they can be rotated and
// revoked. Tokens issued from the same login share a family id.
type RefreshTokenStore interface {
	Store(ctx context.Context, data models.RefreshTokenData) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	Revoke(ctx context.Context, jti string) error
	// Rotate flips jti from live to revoked and returns its data. Of several
	// concurrent callers only one succeeds; the others get
	// ErrRefreshTokenReused.
	Rotate(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) error
}

type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshTokenData
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]models.RefreshTokenData)}
}

func (s *MemoryRefreshTokenStore) Store(_ context.Context, data models.RefreshTokenData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[data.JTI] = data
	return nil
}

func (s *MemoryRefreshTokenStore) Get(_ context.Context, jti string) (*models.RefreshTokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tokens[jti]
	if !ok || time.Now().After(data.ExpiresAt) {
		return nil, ErrRefreshTokenNotFound
	}
	return &data, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tokens[jti]
	if !ok {
		return ErrRefreshTokenNotFound
	}
	data.Revoked = true
	s.tokens[jti] = data
	return nil
}

func (s *MemoryRefreshTokenStore) Rotate(_ context.Context, jti string) (*models.RefreshTokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tokens[jti]
	if !ok || time.Now().After(data.ExpiresAt) {
		return nil, ErrRefreshTokenNotFound
	}
	if data.Revoked {
		return nil, ErrRefreshTokenReused
	}
	data.Revoked = true
	s.tokens[jti] = data
	return &data, nil
}

func (s *MemoryRefreshTokenStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tokens[jti]
	return ok && data.Revoked, nil
}

func (s *MemoryRefreshTokenStore) RevokeFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, data := range s.tokens {
		if data.FamilyID == familyID {
			data.Revoked = true
			s.tokens[jti] = data
		}
	}
	return nil
}
