package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pingitup/pingitup/internal/domain"
)

// SQLite implements UserStore and MessageStore on a single database file.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		full_name     TEXT NOT NULL,
		password_hash BLOB NOT NULL,
		created_at    INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate users: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		sender_id   TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		text        TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate messages: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateUser(ctx context.Context, u *domain.User, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(u.ID), u.Email, u.FullName, passwordHash, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (*domain.User, []byte, error) {
	var u domain.User
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.FullName, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query user: %w", err)
	}
	return &u, hash, nil
}

func (s *SQLite) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM users WHERE id = ?`, string(id)).
		Scan(&u.ID, &u.Email, &u.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *SQLite) ListUsersExcept(ctx context.Context, self domain.UserID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, full_name FROM users WHERE id != ? ORDER BY full_name`, string(self))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(m.ID), string(m.SenderID), string(m.ReceiverID), m.Text, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLite) ListConversation(ctx context.Context, a, b domain.UserID) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, text, created_at FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at, rowid`,
		string(a), string(b), string(b), string(a))
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
