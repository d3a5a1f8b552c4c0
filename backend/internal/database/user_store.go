package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/user/papertrade/backend/internal/models"
)

const pgUniqueViolation = "23505"

// CreateUser inserts a new user into the database.
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Password: passwordHash, // This is the hash
	}

	query := `INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, $4)
			  RETURNING created_at`

	err := s.pool.QueryRow(ctx, query, user.ID, username, email, passwordHash).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("error creating user %s: %w", username, err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by their username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id::text, username, email, password_hash, created_at FROM users WHERE username = $1`, username)
}

// GetUserByID retrieves a user by their ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil // Not a user id we could have issued
	}
	return s.getUser(ctx, `SELECT id::text, username, email, password_hash, created_at FROM users WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // User not found, return nil without error
		}
		return nil, err
	}
	return user, nil
}
