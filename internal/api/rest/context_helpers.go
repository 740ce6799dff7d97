package rest

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyUserID = contextKey("user_id")

// UserIDFromContext returns the authenticated bidder id, or uuid.Nil when
// the request was not authenticated.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(contextKeyUserID).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
