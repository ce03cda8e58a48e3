package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser       = "user"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       string
	FullName           string
	Roles              []string
	IsVerified         bool
	VerificationSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type NewUser struct {
	Email              string
	PasswordHash       string
	FullName           string
	Roles              []string
	IsVerified         bool
	VerificationSentAt *time.Time
}
