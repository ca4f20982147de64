// Package user holds the minimal identity the auction domain needs:
// someone who can authenticate and place bids.
package user

import (
	"fmt"
	"time"

	"github.com/brightlane/auctionhouse/internal/domain/values"
	"github.com/google/uuid"
)

// User is a registered bidder.
type User struct {
	ID           uuid.UUID    `json:"id"`
	Username     string       `json:"username"`
	Email        values.Email `json:"email"`
	PasswordHash string       `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// New constructs a User with an already-hashed password. Hashing
// itself is the auth package's concern.
func New(username string, email values.Email, passwordHash string) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("password hash cannot be empty")
	}

	return &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}, nil
}
