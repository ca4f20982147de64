// Package auction holds the Auction aggregate: a single car listing
// accepting bids within a time window.
package auction

import (
	"fmt"
	"time"

	"github.com/brightlane/auctionhouse/internal/domain/values"
	"github.com/google/uuid"
)

// Status is the lifecycle state of an auction.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Auction represents one car listed for bidding.
type Auction struct {
	ID                 uuid.UUID    `json:"id"`
	CarID              uuid.UUID    `json:"carId"`
	StartingBid        values.Money `json:"startingBid"`
	CurrentHighestBid  values.Money `json:"currentHighestBid"`
	BidCount           int          `json:"bidCount"`
	WinnerID           *uuid.UUID   `json:"winnerId,omitempty"`
	Status             Status       `json:"status"`
	StartTime          time.Time    `json:"startTime"`
	EndTime            time.Time    `json:"endTime"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// New constructs a PENDING auction for a car, with the starting bid as
// the initial highest bid (no bids placed yet).
func New(carID uuid.UUID, startingBid values.Money, startTime, endTime time.Time) (*Auction, error) {
	if carID == uuid.Nil {
		return nil, fmt.Errorf("car id cannot be nil")
	}
	if !startingBid.IsPositive() && !startingBid.IsZero() {
		return nil, fmt.Errorf("starting bid cannot be negative")
	}
	if !endTime.After(startTime) {
		return nil, fmt.Errorf("end time must be after start time")
	}

	now := time.Now()
	return &Auction{
		ID:                uuid.New(),
		CarID:             carID,
		StartingBid:       startingBid,
		CurrentHighestBid: startingBid,
		Status:            StatusPending,
		StartTime:         startTime,
		EndTime:           endTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsOpen reports whether the auction is ACTIVE and within its time
// window; the Bid Processor checks this before accepting a bid.
func (a *Auction) IsOpen(at time.Time) bool {
	return a.Status == StatusActive && !at.Before(a.StartTime) && at.Before(a.EndTime)
}

// MinAcceptedBid returns the smallest amount a new bid must reach to
// be accepted: the current highest bid (the starting bid, before any
// bids) plus the minimum increment. The increment always applies,
// even to the first bid.
func (a *Auction) MinAcceptedBid(increment values.Money) (values.Money, error) {
	return a.CurrentHighestBid.Add(increment)
}

// Activate transitions a pending auction to active.
func (a *Auction) Activate() error {
	if a.Status != StatusPending {
		return fmt.Errorf("auction must be pending to activate")
	}
	a.Status = StatusActive
	a.UpdatedAt = time.Now()
	return nil
}

// RecordBid updates the auction's denormalized highest-bid/count/
// winner fields after a bid has been accepted by the Bid Processor.
// Callers are expected to have already performed the conditional
// write against the Store; this mutates the in-memory/just-loaded
// copy to match.
func (a *Auction) RecordBid(userID uuid.UUID, amount values.Money) {
	a.CurrentHighestBid = amount
	a.BidCount++
	a.WinnerID = &userID
	a.UpdatedAt = time.Now()
}

// End transitions the auction to ENDED.
func (a *Auction) End() {
	a.Status = StatusEnded
	a.UpdatedAt = time.Now()
}
