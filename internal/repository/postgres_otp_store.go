package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
)

const OTPChallengesSchema = `
CREATE TABLE IF NOT EXISTS otp_challenges (
	phone      TEXT PRIMARY KEY,
	code_hash  TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS otp_challenges_expires_at_idx ON otp_challenges (expires_at);
`

// PostgresOTPStore keeps one otp_challenges row per phone.
type PostgresOTPStore struct {
	db     PgxPool
	logger *logrus.Logger
}

func NewPostgresOTPStore(db PgxPool, logger *logrus.Logger) *PostgresOTPStore {
	return &PostgresOTPStore{db: db, logger: logger}
}

// EnsureSchema creates the otp_challenges table when missing.
func (s *PostgresOTPStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, OTPChallengesSchema); err != nil {
		return fmt.Errorf("failed to create otp_challenges: %w", err)
	}
	return nil
}

func (s *PostgresOTPStore) Put(ctx context.Context, rec models.OTPRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO otp_challenges (phone, code_hash, attempts, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phone) DO UPDATE
SET code_hash = EXCLUDED.code_hash,
    attempts = EXCLUDED.attempts,
    issued_at = EXCLUDED.issued_at,
    expires_at = EXCLUDED.expires_at`,
		rec.Phone, rec.CodeHash, rec.Attempts, rec.IssuedAt, rec.ExpiresAt,
	)
	if err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Postgres")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *PostgresOTPStore) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	rec, err := scanOTP(s.db.QueryRow(ctx, `
SELECT phone, code_hash, attempts, issued_at, expires_at
FROM otp_challenges
WHERE phone = $1`, phone))
	if isNoRows(err) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return rec, nil
}

func (s *PostgresOTPStore) Delete(ctx context.Context, phone string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM otp_challenges WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

// Attempt locks the row for the duration of the check-and-increment.
func (s *PostgresOTPStore) Attempt(ctx context.Context, phone string, now time.Time, maxAttempts int) (*models.OTPRecord, AttemptOutcome, error) {
	var (
		rec     *models.OTPRecord
		outcome = AttemptAllowed
	)

	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		rec, err = scanOTP(tx.QueryRow(ctx, `
SELECT phone, code_hash, attempts, issued_at, expires_at
FROM otp_challenges
WHERE phone = $1
FOR UPDATE`, phone))
		if isNoRows(err) {
			return ErrOTPNotFound
		}
		if err != nil {
			return err
		}

		if rec.Expired(now) {
			outcome = AttemptExpired
			_, err = tx.Exec(ctx, `DELETE FROM otp_challenges WHERE phone = $1`, phone)
			return err
		}

		rec.Attempts++
		if rec.Attempts > maxAttempts {
			outcome = AttemptExhausted
			_, err = tx.Exec(ctx, `DELETE FROM otp_challenges WHERE phone = $1`, phone)
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE otp_challenges SET attempts = $2 WHERE phone = $1`, phone, rec.Attempts)
		return err
	})
	if errors.Is(err, ErrOTPNotFound) {
		return nil, AttemptAllowed, ErrOTPNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to register OTP attempt in Postgres")
		return nil, AttemptAllowed, fmt.Errorf("failed to register OTP attempt: %w", err)
	}

	return rec, outcome, nil
}

func (s *PostgresOTPStore) Consume(ctx context.Context, phone, codeHash string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM otp_challenges WHERE phone = $1 AND code_hash = $2`, phone, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresOTPStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired OTPs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanOTP(row pgx.Row) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	if err := row.Scan(&rec.Phone, &rec.CodeHash, &rec.Attempts, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
