package models

import "time"

// OTPRecord is the outstanding verification challenge for one phone number.
// Only the digest of the code is kept.
type OTPRecord struct {
	Phone     string    `json:"phone" dynamodbav:"Phone"`
	CodeHash  string    `json:"code_hash" dynamodbav:"CodeHash"`
	Attempts  int       `json:"attempts" dynamodbav:"Attempts"`
	IssuedAt  time.Time `json:"issued_at" dynamodbav:"IssuedAt"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
}

// Expired reports whether the challenge window has passed at now.
func (r *OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
