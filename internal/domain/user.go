// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxFullNameLen = 72
	MinPasswordLen = 6
)

var (
	ErrEmailEmpty      = errors.New("email empty")
	ErrEmailInvalid    = errors.New("email invalid")
	ErrFullNameEmpty   = errors.New("full name empty")
	ErrFullNameTooLong = errors.New("full name too long")
	ErrPasswordTooWeak = errors.New("password too short")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(email, fullName string) (*User, error) {
	if email == "" {
		return nil, ErrEmailEmpty
	}
	if !strings.Contains(email, "@") {
		return nil, ErrEmailInvalid
	}
	if fullName == "" {
		return nil, ErrFullNameEmpty
	}
	if len(fullName) > MaxFullNameLen {
		return nil, ErrFullNameTooLong
	}
	return &User{ID: UserID(uuid.NewString()), Email: email, FullName: fullName}, nil
}
