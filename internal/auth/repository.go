package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new user and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName, role string) (*User, error) {
	u := &User{ID: uuid.New(), Email: email, DisplayName: displayName, Role: role}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.DisplayName, u.Role, passwordHash)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByEmail returns the user and password hash for login, or nil if the
// email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, string, error) {
	var u User
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, password_hash
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &u, passwordHash, nil
}
