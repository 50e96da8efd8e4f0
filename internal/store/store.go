// Package store is the persistence collaborator: durable users and chat
// history. The live relay never reads from here; it only pushes records the
// store has already accepted.
package store

import (
	"context"
	"errors"

	"github.com/pingitup/pingitup/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User, passwordHash []byte) error
	UserByEmail(ctx context.Context, email string) (*domain.User, []byte, error)
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	// ListUsersExcept returns every user except self, for the sidebar.
	ListUsersExcept(ctx context.Context, self domain.UserID) ([]domain.User, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, m *domain.Message) error
	// ListConversation returns all messages between the two users, oldest
	// first.
	ListConversation(ctx context.Context, a, b domain.UserID) ([]domain.Message, error)
}
