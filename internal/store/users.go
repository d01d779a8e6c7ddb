package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User is a row in the users table. The email doubles as the user id across
// the API, so profile lookups key on it directly.
type User struct {
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateUser inserts a new user. A duplicate email returns ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, email, hashedPassword string) (User, error) {
	now := time.Now().UTC()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (email, hashed_password, created_at) VALUES (?, ?, ?);`,
			email, hashedPassword, now,
		)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, ErrAlreadyExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return User{Email: email, HashedPassword: hashedPassword, CreatedAt: now}, nil
}

// GetUser fetches a user by email. Returns ErrNotFound when absent.
func (s *Store) GetUser(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT email, hashed_password, created_at FROM users WHERE email = ?;`, email,
	).Scan(&u.Email, &u.HashedPassword, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %q: %w", email, err)
	}
	return u, nil
}
