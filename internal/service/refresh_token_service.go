package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
	"github.com/dhr/workerauth/internal/repository"
)

// RefreshTokenService issues token pairs and rotates refresh tokens. A
// revoked refresh token presented again revokes its whole family.
type RefreshTokenService struct {
	store  repository.RefreshTokenStore
	jwt    *JWTService
	logger *logrus.Logger
}

func NewRefreshTokenService(store repository.RefreshTokenStore, jwt *JWTService, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		store:  store,
		jwt:    jwt,
		logger: logger,
	}
}

// Issue starts a new token family for profile.
func (s *RefreshTokenService) Issue(ctx context.Context, profile *models.UserProfile) (*models.TokenPair, error) {
	id := Identity{ID: profile.ID, Phone: profile.Phone, Role: profile.Role}
	return s.issue(ctx, id, uuid.New().String())
}

// Refresh exchanges a live refresh token for a new pair in the same family.
func (s *RefreshTokenService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.verifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Rotate(ctx, claims.ID)
	switch {
	case errors.Is(err, repository.ErrRefreshTokenReused):
		s.logger.WithFields(logrus.Fields{
			"family_id": claims.FamilyID,
			"user_id":   claims.Subject,
		}).Warn("Revoked refresh token reused, revoking family")
		if err := s.store.RevokeFamily(ctx, claims.FamilyID); err != nil {
			s.logger.WithError(err).Error("Failed to revoke token family")
		}
		return nil, ErrTokenRevoked
	case errors.Is(err, repository.ErrRefreshTokenNotFound):
		return nil, ErrInvalidToken
	case err != nil:
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	id := Identity{ID: data.UserID, Phone: data.Phone, Role: data.Role}
	return s.issue(ctx, id, data.FamilyID)
}

// Logout revokes refreshToken when it belongs to userID.
func (s *RefreshTokenService) Logout(ctx context.Context, refreshToken, userID string) error {
	claims, err := s.verifyRefresh(refreshToken)
	if err != nil {
		return err
	}
	if claims.Subject != userID {
		return ErrInvalidToken
	}

	err = s.store.Revoke(ctx, claims.ID)
	if errors.Is(err, repository.ErrRefreshTokenNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokenService) issue(ctx context.Context, id Identity, familyID string) (*models.TokenPair, error) {
	pair, refreshClaims, err := s.jwt.GenerateTokenPair(id, familyID)
	if err != nil {
		return nil, err
	}

	err = s.store.Store(ctx, models.RefreshTokenData{
		JTI:       refreshClaims.ID,
		UserID:    id.ID,
		Phone:     id.Phone,
		Role:      id.Role,
		FamilyID:  familyID,
		CreatedAt: refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return pair, nil
}

func (s *RefreshTokenService) verifyRefresh(token string) (*Claims, error) {
	claims, err := s.jwt.VerifyToken(token)
	if err != nil {
		s.logger.WithError(err).Debug("Refresh token verification failed")
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
