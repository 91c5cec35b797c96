package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
)

// RedisRefreshTokenStore keeps token data under refresh_token:<jti>, a revoked
// marker under revoked_token:<jti> and the members of each family in a set.
type RedisRefreshTokenStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisRefreshTokenStore(client *redis.Client, logger *logrus.Logger) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{
		client: client,
		logger: logger,
	}
}

func (s *RedisRefreshTokenStore) Store(ctx context.Context, data models.RefreshTokenData) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token %s already expired", data.JTI)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshKey(data.JTI), dataJSON, ttl)
		pipe.SAdd(ctx, familyKey(data.FamilyID), data.JTI)
		pipe.ExpireAt(ctx, familyKey(data.FamilyID), data.ExpiresAt)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RedisRefreshTokenStore) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshKey(jti)).Result()
	if err == redis.Nil {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var data models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &data, nil
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	data, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	data.Revoked = true
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshKey(jti), dataJSON, ttl)
		pipe.Set(ctx, revokedKey(jti), "1", ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

// Rotate claims the revoked marker with SET NX; only the caller that creates
// it owns the rotation.
func (s *RedisRefreshTokenStore) Rotate(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	data, err := s.Get(ctx, jti)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return nil, ErrRefreshTokenNotFound
	}

	claimed, err := s.client.SetNX(ctx, revokedKey(jti), "1", ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !claimed {
		return nil, ErrRefreshTokenReused
	}

	data.Revoked = true
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token data: %w", err)
	}
	if err := s.client.Set(ctx, refreshKey(jti), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("jti", jti).Warn("Failed to update rotated token data")
	}

	return data, nil
}

func (s *RedisRefreshTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *RedisRefreshTokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	members, err := s.client.SMembers(ctx, familyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list token family: %w", err)
	}

	for _, jti := range members {
		if err := s.Revoke(ctx, jti); err != nil && err != ErrRefreshTokenNotFound {
			s.logger.WithError(err).WithField("jti", jti).Warn("Failed to revoke family member")
		}
	}

	return nil
}

func refreshKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func familyKey(familyID string) string {
	return fmt.Sprintf("token_family:%s", familyID)
}
