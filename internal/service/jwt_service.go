package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/config"
	"github.com/dhr/workerauth/internal/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
	}, nil
}

// Claims identify the account a token was issued for. Subject holds the user id.
type Claims struct {
	Phone    string      `json:"phone"`
	Role     models.Role `json:"role"`
	Type     string      `json:"type"`
	FamilyID string      `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the minimum a token carries about its holder.
type Identity struct {
	ID    string
	Phone string
	Role  models.Role
}

// GenerateTokenPair signs an access and a refresh token for id. The refresh
// token carries familyID; its claims are returned so callers can record it.
func (s *JWTService) GenerateTokenPair(id Identity, familyID string) (*models.TokenPair, *Claims, error) {
	now := time.Now()

	accessClaims := s.newClaims(id, TokenTypeAccess, "", now, s.accessExpiry)
	accessToken, err := s.sign(accessClaims)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshClaims := s.newClaims(id, TokenTypeRefresh, familyID, now, s.refreshExpiry)
	refreshToken, err := s.sign(refreshClaims)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, refreshClaims, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

func (s *JWTService) newClaims(id Identity, tokenType, familyID string, now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		Phone:    id.Phone,
		Role:     id.Role,
		Type:     tokenType,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}
