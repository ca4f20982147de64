// Package auctionlifecycle implements the auction lifecycle
// collaborator: a scheduled sweep that ends auctions whose time
// window has closed, the one producer of auction-end/auction-won
// events the Gateway's rooms and identity-addressed relay consume.
package auctionlifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/domain/auction"
	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
)

// DefaultInterval is how often the Ender sweeps for auctions past
// their end time when the caller doesn't specify one.
const DefaultInterval = 5 * time.Second

// EndEvent is published on an auction's Cache events channel once the
// Ender transitions it to ENDED, for every Gateway instance hosting
// that auction's room to broadcast auction-end locally.
type EndEvent struct {
	Type       string     `json:"type"`
	AuctionID  uuid.UUID  `json:"auctionId"`
	WinningBid string     `json:"winningBid"`
	WinnerID   *uuid.UUID `json:"winnerId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// notification mirrors the identity-addressed wire shape bidprocessor
// publishes on the Queue's notifications topic, so the Gateway's
// NotificationRelay fans this auctionWon message out the same way.
type notification struct {
	Type         string    `json:"type"`
	TargetUserID uuid.UUID `json:"targetUserId"`
	AuctionID    uuid.UUID `json:"auctionId"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ender is the auction lifecycle collaborator described in spec.md
// §4.5: it owns the one mutation the Bid Processor never performs —
// ACTIVE → ENDED, for the auctions ListActive returns — and the two
// outbound events that follow from it.
type Ender struct {
	auctions repository.AuctionRepository
	cache    cache.Cache
	queue    *queue.Adapter // may be nil: auctionWon notification is skipped
	interval time.Duration
	log      *zap.Logger
}

// New constructs an Ender. interval <= 0 falls back to DefaultInterval.
func New(auctions repository.AuctionRepository, c cache.Cache, q *queue.Adapter, interval time.Duration, logger *zap.Logger) *Ender {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ender{auctions: auctions, cache: c, queue: q, interval: interval, log: logger}
}

// Run sweeps for auctions past their end time on a fixed interval
// until ctx is cancelled.
func (e *Ender) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Ender) sweep(ctx context.Context) {
	active, err := e.auctions.ListActive(ctx)
	if err != nil {
		e.log.Error("auctionlifecycle: list active auctions failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, a := range active {
		if now.Before(a.EndTime) {
			continue
		}
		e.end(ctx, a)
	}
}

// end transitions a, persists it, and publishes auction-end plus — if
// there was a winner — the identity-addressed auction-won notice.
func (e *Ender) end(ctx context.Context, a *auction.Auction) {
	a.End()
	if err := e.auctions.Update(ctx, a); err != nil {
		e.log.Error("auctionlifecycle: persist ended auction failed", zap.String("auction_id", a.ID.String()), zap.Error(err))
		return
	}

	evt := EndEvent{
		Type:       "auctionEnd",
		AuctionID:  a.ID,
		WinningBid: a.CurrentHighestBid.String(),
		WinnerID:   a.WinnerID,
		Timestamp:  time.Now(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.log.Error("auctionlifecycle: marshal end event failed", zap.Error(err))
		return
	}
	if err := e.cache.Publish(ctx, cache.AuctionEventsChannel(a.ID), payload); err != nil {
		e.log.Error("auctionlifecycle: publish end event failed", zap.String("auction_id", a.ID.String()), zap.Error(err))
	}

	if a.WinnerID == nil || e.queue == nil {
		return
	}

	n := notification{Type: "auctionWon", TargetUserID: *a.WinnerID, AuctionID: a.ID, Timestamp: time.Now()}
	np, err := json.Marshal(n)
	if err != nil {
		e.log.Error("auctionlifecycle: marshal auctionWon notification failed", zap.Error(err))
		return
	}
	if err := e.queue.Publish(ctx, e.queue.Topic(queue.TopicNotifications), []byte(n.TargetUserID.String()), np); err != nil {
		e.log.Error("auctionlifecycle: publish auctionWon notification failed", zap.String("auction_id", a.ID.String()), zap.Error(err))
	}
}
