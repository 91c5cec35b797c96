// Package sms delivers one-time codes to phones.
package sms

import "context"

// Dispatcher sends a text message to an E.164 phone number and returns the
// provider's message id.
type Dispatcher interface {
	Send(ctx context.Context, phone, message string) (string, error)
}
