// Package bid holds the Bid aggregate: a single offer placed by a user
// against an auction's current highest price.
package bid

import (
	"fmt"
	"time"

	"github.com/brightlane/auctionhouse/internal/domain/values"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a single bid. A bid never moves
// backwards: PENDING -> (ACCEPTED | REJECTED), and an ACCEPTED bid
// later moves to OUTBID once a higher bid is accepted for the same
// auction.
type Status int

const (
	StatusPending Status = iota
	StatusAccepted
	StatusRejected
	StatusOutbid
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRejected:
		return "REJECTED"
	case StatusOutbid:
		return "OUTBID"
	default:
		return "UNKNOWN"
	}
}

// Bid represents one user's offer on one auction.
type Bid struct {
	ID        uuid.UUID    `json:"id"`
	AuctionID uuid.UUID    `json:"auctionId"`
	UserID    uuid.UUID    `json:"userId"`
	Amount    values.Money `json:"amount"`
	Status    Status       `json:"status"`
	IsWinning bool         `json:"isWinning"`
	Timestamp time.Time    `json:"timestamp"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// New constructs a PENDING bid. Amount validation against the
// auction's current highest bid is the Bid Processor's job, not the
// constructor's — the aggregate only enforces invariants it can check
// in isolation.
func New(auctionID, userID uuid.UUID, amount values.Money) (*Bid, error) {
	if auctionID == uuid.Nil {
		return nil, fmt.Errorf("auction id cannot be nil")
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id cannot be nil")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bid amount must be positive")
	}

	now := time.Now()
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		Status:    StatusPending,
		Timestamp: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Accept marks the bid ACCEPTED and winning.
func (b *Bid) Accept() {
	b.Status = StatusAccepted
	b.IsWinning = true
	b.UpdatedAt = time.Now()
}

// Reject marks the bid REJECTED (it never became the highest bid).
func (b *Bid) Reject() {
	b.Status = StatusRejected
	b.IsWinning = false
	b.UpdatedAt = time.Now()
}

// Outbid marks a previously-ACCEPTED bid OUTBID after a higher bid
// was accepted for the same auction.
func (b *Bid) Outbid() error {
	if b.Status != StatusAccepted {
		return fmt.Errorf("only an accepted bid can be marked outbid, current status %s", b.Status)
	}
	b.Status = StatusOutbid
	b.IsWinning = false
	b.UpdatedAt = time.Now()
	return nil
}
