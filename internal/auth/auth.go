// Package auth is the authentication collaborator: it issues the verified
// user identity that every ws handshake and REST call is bound to.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/pingitup/pingitup/internal/domain"
	"github.com/pingitup/pingitup/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	Users store.UserStore
}

func NewService(users store.UserStore) *Service {
	return &Service{Users: users}
}

func (s *Service) Signup(ctx context.Context, email, fullName, password string) (*domain.User, error) {
	if len(password) < domain.MinPasswordLen {
		return nil, domain.ErrPasswordTooWeak
	}
	u, err := domain.NewUser(email, fullName)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.Users.CreateUser(ctx, u, hash); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, error) {
	u, hash, err := s.Users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
