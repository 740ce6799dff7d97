package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserDirectory resolves bidder display names for read responses. It is a
// read-only view onto the marketplace's users table; an unknown id yields
// an empty name rather than an error so state reads never fail on a
// missing profile.
type UserDirectory interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
}

type userDirectory struct {
	db Querier
}

// NewUserDirectory creates a Postgres-backed user directory.
func NewUserDirectory(db Querier) UserDirectory {
	return &userDirectory{db: db}
}

func (r *userDirectory) DisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM users WHERE user_id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}
