package repository

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
)

// PostgresUserRepository resolves workers from the patients table.
type PostgresUserRepository struct {
	db     PgxPool
	logger *logrus.Logger
}

func NewPostgresUserRepository(db PgxPool, logger *logrus.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: logger}
}

func (r *PostgresUserRepository) FindByPhone(ctx context.Context, phone string) (*models.UserProfile, error) {
	var u models.UserProfile
	err := r.db.QueryRow(ctx, `
SELECT id::text, COALESCE(name, ''), phone, COALESCE(health_id, '')
FROM patients
WHERE phone = $1
LIMIT 1`, phone).Scan(&u.ID, &u.Name, &u.Phone, &u.HealthID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get patient from Postgres")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Role = models.RoleWorker
	return &u, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.UserProfile) error {
	existing, err := r.FindByPhone(ctx, user.Phone)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrUserExists
	}

	err = r.db.QueryRow(ctx, `
INSERT INTO patients (name, phone)
VALUES ($1, $2)
RETURNING id::text`, user.Name, user.Phone).Scan(&user.ID)
	if err != nil {
		r.logger.WithError(err).Error("Failed to create patient in Postgres")
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.Role = models.RoleWorker
	return nil
}
