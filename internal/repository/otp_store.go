package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dhr/workerauth/internal/models"
)

var ErrOTPNotFound = errors.New("otp record not found")

// AttemptOutcome is the result of registering one verification attempt.
type AttemptOutcome int

const (
	// AttemptAllowed means the attempt was counted and the code may be compared.
	AttemptAllowed AttemptOutcome = iota
	// AttemptExpired means the record was past its expiry and has been deleted.
	AttemptExpired
	// AttemptExhausted means the attempt budget was exceeded and the record has been deleted.
	AttemptExhausted
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptAllowed:
		return "allowed"
	case AttemptExpired:
		return "expired"
	case AttemptExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// OTPStore keeps at most one OTP record per phone number. Every method is
// atomic with respect to the phone key.
type OTPStore interface {
	// Put stores rec, replacing any record already held for rec.Phone.
	Put(ctx context.Context, rec models.OTPRecord) error
	// Get returns ErrOTPNotFound when no record exists.
	Get(ctx context.Context, phone string) (*models.OTPRecord, error)
	Delete(ctx context.Context, phone string) error
	// Attempt performs the expiry check and attempt increment as one step.
	// It returns ErrOTPNotFound when no record exists.
	Attempt(ctx context.Context, phone string, now time.Time, maxAttempts int) (*models.OTPRecord, AttemptOutcome, error)
	// Consume deletes the record for phone only if it still carries codeHash.
	Consume(ctx context.Context, phone, codeHash string) (bool, error)
}

// Sweeper is implemented by stores that do not expire records on their own.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
