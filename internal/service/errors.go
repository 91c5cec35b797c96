package service

import "errors"

var (
	ErrDelivery           = errors.New("failed to deliver OTP")
	ErrNotRequested       = errors.New("no OTP requested for this phone")
	ErrExpired            = errors.New("OTP expired")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrIncorrectCode      = errors.New("incorrect OTP")
	ErrUserNotFound       = errors.New("user not found")
	ErrPhoneNotRegistered = errors.New("phone number not registered")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// ValidationError reports malformed input. Operations that return it have not
// changed any state.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
