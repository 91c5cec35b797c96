package repository

import (
	"context"

	"github.com/dhr/workerauth/internal/models"
)

// UserDirectory resolves a verified phone number to an account.
type UserDirectory interface {
	// FindByPhone returns nil, nil when no account exists for phone.
	FindByPhone(ctx context.Context, phone string) (*models.UserProfile, error)
}

// UserRegistry can add accounts; used to seed development directories.
type UserRegistry interface {
	Create(ctx context.Context, user *models.UserProfile) error
}
