package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is an authenticated mailbox owner.
type User struct {
	ID                uuid.UUID
	ExternalAccountID string
	Email             string
	AccessToken       string
	RefreshToken      string
	TokenCreated      time.Time
}

// Users persists user rows.
type Users struct {
	pool *pgxpool.Pool
}

const userColumns = `id, external_account_id, email, access_token, refresh_token, token_created`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalAccountID, &u.Email, &u.AccessToken, &u.RefreshToken, &u.TokenCreated)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// CreateOrUpdate upserts a user on first or repeated authentication,
// rotating stored credentials.
func (r *Users) CreateOrUpdate(ctx context.Context, externalID, email, accessToken, refreshToken string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (external_account_id, email, access_token, refresh_token, token_created)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (external_account_id) DO UPDATE
		SET email = EXCLUDED.email,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    token_created = now()
		RETURNING `+userColumns,
		externalID, email, accessToken, refreshToken)
	return scanUser(row)
}

// GetByExternalID looks up a user by provider account id.
func (r *Users) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_account_id = $1`, externalID)
	return scanUser(row)
}

// GetByEmail looks up a user by email address.
func (r *Users) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// UpdateAccessToken persists a refreshed provider access token.
func (r *Users) UpdateAccessToken(ctx context.Context, id uuid.UUID, accessToken string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET access_token = $2, token_created = now() WHERE id = $1`, id, accessToken)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	return nil
}

// ListAuthenticated returns every user with stored credentials.
func (r *Users) ListAuthenticated(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE access_token IS NOT NULL AND access_token <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes a user and, via cascade, their messages.
func (r *Users) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
