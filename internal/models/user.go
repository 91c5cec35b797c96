package models

import (
	"time"
)

type Role string

const (
	RoleWorker     Role = "worker"
	RoleDoctor     Role = "doctor"
	RoleGovernment Role = "government"
)

// UserProfile is the account a verified phone number resolves to.
type UserProfile struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Phone     string    `json:"phone" dynamodbav:"phone_number"`
	Name      string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Role      Role      `json:"role" dynamodbav:"role"`
	HealthID  string    `json:"health_id,omitempty" dynamodbav:"health_id,omitempty"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *UserProfile) GetPK() string {
	return "USER!" + u.Phone
}

func (u *UserProfile) GetSK() string {
	return "METADATA"
}
