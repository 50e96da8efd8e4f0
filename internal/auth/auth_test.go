package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pingitup/pingitup/internal/domain"
	"github.com/pingitup/pingitup/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s)
}

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, "alice@example.com", "Alice", "hunter22")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected user id")
	}

	got, err := svc.Login(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("login returned wrong user: %+v", got)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice@example.com", "Alice", "hunter22"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must look like bad credentials, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice@example.com", "Alice", "shrt"); !errors.Is(err, domain.ErrPasswordTooWeak) {
		t.Fatalf("expected weak password error, got %v", err)
	}
	if _, err := svc.Signup(ctx, "not-an-email", "Alice", "hunter22"); !errors.Is(err, domain.ErrEmailInvalid) {
		t.Fatalf("expected invalid email error, got %v", err)
	}
}
