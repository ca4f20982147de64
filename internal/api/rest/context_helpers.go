package rest

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// getUserFromContext extracts the authenticated bidder's ID from
// context, set by AuthMiddleware.Middleware on the HTTP fallback.
func getUserFromContext(ctx context.Context) (uuid.UUID, error) {
	userIDVal := ctx.Value(contextKeyUserID)
	if userIDVal == nil {
		return uuid.Nil, errors.New("user ID not found in context")
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("invalid user ID type in context")
	}

	return userID, nil
}
