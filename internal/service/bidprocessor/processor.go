// Package bidprocessor implements the Bid Processor: the single
// authoritative arbiter of bid acceptance. It is the only component
// that writes bid records and advances an auction's highest-bid state,
// invoked as the consumer of the Queue's bid-placed topic.
package bidprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/domain/auction"
	"github.com/brightlane/auctionhouse/internal/domain/bid"
	"github.com/brightlane/auctionhouse/internal/domain/values"
	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
	"github.com/brightlane/auctionhouse/internal/metrics"
)

const (
	highestBidTTL     = 60 * time.Second
	auctionSnapshotTTL = 5 * time.Minute
)

// BidRequest is the envelope the Gateway assembles from a place-bid
// intent and enqueues on the Queue's bid-placed topic.
type BidRequest struct {
	AuctionID   uuid.UUID `json:"auctionId"`
	UserID      uuid.UUID `json:"userId"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Username    string    `json:"username"`
	SocketID    string    `json:"socketId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// BidUpdateEvent is published on an auction's Cache pub/sub channel
// whenever a bid is accepted, for every Gateway instance hosting that
// auction's room to rebroadcast locally. Type discriminates it from
// OutbidEvent, which shares the same channel.
type BidUpdateEvent struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auctionId"`
	BidID     uuid.UUID `json:"bidId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// OutbidEvent is published on an auction's Cache bid channel — the
// same one BidUpdateEvent uses — whenever an accepted bid displaces
// the previous highest bidder, so every Gateway instance can broadcast
// it to the whole room. The new top bidder is expected to ignore it
// client-side when NewBidUserID equals their own identity, rather than
// the server excluding them.
type OutbidEvent struct {
	Type             string    `json:"type"`
	AuctionID        uuid.UUID `json:"auctionId"`
	PreviousWinnerID uuid.UUID `json:"previousWinnerId"`
	NewBidUserID     uuid.UUID `json:"newBidUserId"`
	NewBidUsername   string    `json:"newBidUsername"`
	NewBidAmount     string    `json:"newBidAmount"`
	Timestamp        time.Time `json:"timestamp"`
}

// notification is published on the Queue's notifications topic,
// addressed to a single identity by TargetUserID.
type notification struct {
	Type         string    `json:"type"` // "outbid" | "BID_SUCCESS" | "BID_FAILED"
	TargetUserID uuid.UUID `json:"targetUserId"`
	AuctionID    uuid.UUID `json:"auctionId"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// auditEntry is published on the Queue's audit topic.
type auditEntry struct {
	Type      string    `json:"type"` // "BID_PLACED"
	AuctionID uuid.UUID `json:"auctionId"`
	UserID    uuid.UUID `json:"userId"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Processor is the Bid Processor.
type Processor struct {
	store repository.AuctionStore
	bids  repository.BidRepository
	users repository.UserRepository
	cache cache.Cache
	queue *queue.Adapter // may be nil: degraded mode, notifications/audit are skipped
	cfg   config.AuctionConfig
	log   *zap.Logger
	metrics *metrics.Registry // may be nil
}

// New constructs a Processor.
func New(store repository.AuctionStore, bids repository.BidRepository, users repository.UserRepository, c cache.Cache, q *queue.Adapter, cfg config.AuctionConfig, logger *zap.Logger, reg *metrics.Registry) *Processor {
	return &Processor{store: store, bids: bids, users: users, cache: c, queue: q, cfg: cfg, log: logger, metrics: reg}
}

// Handle implements queue.Handler: it decodes the envelope and runs
// the ten-step acceptance algorithm.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	var req BidRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("bidprocessor: decode bid request: %w", err)
	}
	return p.process(ctx, req)
}

func (p *Processor) process(ctx context.Context, req BidRequest) error {
	start := time.Now()
	lockKey := cache.LockPrefix + req.AuctionID.String()

	token, acquired, err := p.cache.Lock(ctx, lockKey, p.cfg.LockTTL)
	if p.metrics != nil {
		p.metrics.RecordLockWait(!acquired, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("bidprocessor: acquire lock for auction %s: %w", req.AuctionID, err)
	}
	if !acquired {
		return fmt.Errorf("bidprocessor: auction %s is already being processed", req.AuctionID)
	}
	defer func() {
		if err := p.cache.Unlock(context.Background(), lockKey, token); err != nil {
			p.log.Error("bidprocessor: unlock failed", zap.String("auction_id", req.AuctionID.String()), zap.Error(err))
		}
	}()

	result := "rejected"
	reason := ""
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordBidProcessing(req.AuctionID.String(), result, time.Since(start), reason)
		}
	}()

	a, err := p.store.FindByID(ctx, req.AuctionID)
	if err != nil {
		reason = "auction_not_found"
		return p.reject(ctx, req, reason, err)
	}

	now := time.Now()
	if !a.IsOpen(now) {
		if a.Status != auction.StatusActive {
			reason = "auction_not_active"
		} else if now.Before(a.StartTime) {
			reason = "not_started"
		} else {
			reason = "ended"
		}
		return p.reject(ctx, req, reason, fmt.Errorf("auction %s is not open", req.AuctionID))
	}

	amount, err := values.NewMoneyFromCents(req.AmountCents, req.Currency)
	if err != nil {
		reason = "invalid_amount"
		return p.reject(ctx, req, reason, err)
	}

	increment, err := values.NewMoneyFromCents(p.cfg.BidIncrementCents, a.CurrentHighestBid.Currency())
	if err != nil {
		reason = "invalid_increment"
		return p.reject(ctx, req, reason, err)
	}
	minAccepted, err := a.MinAcceptedBid(increment)
	if err != nil {
		reason = "currency_mismatch"
		return p.reject(ctx, req, reason, err)
	}
	if amount.Compare(minAccepted) < 0 {
		reason = "bid_too_low"
		return p.reject(ctx, req, reason, fmt.Errorf("bid %s below minimum accepted %s", amount, minAccepted))
	}

	if _, err := p.users.GetByID(ctx, req.UserID); err != nil {
		reason = "user_not_found"
		return p.reject(ctx, req, reason, err)
	}

	newBid, err := bid.New(req.AuctionID, req.UserID, amount)
	if err != nil {
		reason = "invalid_bid"
		return p.reject(ctx, req, reason, err)
	}
	newBid.Accept()

	// bids.is_winning carries a partial unique index (at most one
	// winning bid per auction), so the prior winner must be swept to
	// OUTBID before the new bid is inserted as winning — never after.
	// newBid.ID isn't in the table yet, so excluding it here is a no-op
	// the first time and harmless regardless.
	if err := p.bids.OutbidPriorAccepted(ctx, req.AuctionID, newBid.ID); err != nil {
		reason = "persist_failed"
		return p.reject(ctx, req, reason, err)
	}

	if err := p.bids.Create(ctx, newBid); err != nil {
		reason = "persist_failed"
		return p.reject(ctx, req, reason, err)
	}

	// The conditional update is the true atomicity gate against a
	// concurrent higher bid (step 8's guard). A lost race compensates
	// by rejecting the bid just inserted; the prior winner stays swept,
	// since losing this race means a higher bid has already landed
	// elsewhere for this auction.
	previousWinnerID := a.WinnerID
	updatedAuction, err := p.store.ConditionalUpdateHighestBid(ctx, req.AuctionID, amount, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			reason = "outbid_concurrently"
		} else {
			reason = "update_failed"
		}
		if markErr := p.bids.MarkRejected(ctx, newBid.ID); markErr != nil {
			p.log.Error("bidprocessor: compensating rollback failed", zap.String("bid_id", newBid.ID.String()), zap.Error(markErr))
		}
		return p.reject(ctx, req, reason, err)
	}

	result = "accepted"
	p.publishSuccess(ctx, req, newBid, updatedAuction, previousWinnerID)
	return nil
}

// reject runs the common step-9-on-failure handling: a BID_FAILED
// notification to the originating identity, a failed audit entry, and
// an error return that the Queue adapter dead-letters without requeue.
func (p *Processor) reject(ctx context.Context, req BidRequest, reason string, cause error) error {
	p.log.Warn("bidprocessor: bid rejected",
		zap.String("auction_id", req.AuctionID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("reason", reason),
		zap.Error(cause))

	p.publishNotification(ctx, notification{
		Type: "BID_FAILED", TargetUserID: req.UserID, AuctionID: req.AuctionID,
		Reason: reason, Timestamp: time.Now(),
	})
	p.publishAudit(ctx, auditEntry{
		Type: "BID_PLACED", AuctionID: req.AuctionID, UserID: req.UserID,
		Success: false, Reason: reason, Timestamp: time.Now(),
	})
	return fmt.Errorf("bidprocessor: %s: %w", reason, cause)
}

func (p *Processor) publishSuccess(ctx context.Context, req BidRequest, newBid *bid.Bid, updated *auction.Auction, previousWinnerID *uuid.UUID) {
	if err := p.cache.Publish(ctx, cache.AuctionBidsChannel(req.AuctionID), mustJSON(BidUpdateEvent{
		Type: "bidUpdate", AuctionID: req.AuctionID, BidID: newBid.ID, UserID: req.UserID,
		Username: req.Username, Amount: newBid.Amount.String(), Timestamp: newBid.Timestamp,
	})); err != nil {
		p.log.Error("bidprocessor: publish bid-update failed", zap.String("auction_id", req.AuctionID.String()), zap.Error(err))
	}

	if err := p.cache.SetJSON(ctx, "ah:auction:"+req.AuctionID.String()+":highest-bid", newBid, highestBidTTL); err != nil {
		p.log.Error("bidprocessor: cache highest-bid snapshot failed", zap.Error(err))
	}
	if err := p.cache.SetJSON(ctx, "ah:auction:"+req.AuctionID.String()+":snapshot", updated, auctionSnapshotTTL); err != nil {
		p.log.Error("bidprocessor: cache auction snapshot failed", zap.Error(err))
	}

	if previousWinnerID != nil && *previousWinnerID != req.UserID {
		// Broadcast room-wide on the same channel bid-update uses, not
		// just to the previous winner's identity — every room member
		// (including the new bidder, who ignores it client-side) sees
		// that the top bid changed hands.
		if err := p.cache.Publish(ctx, cache.AuctionBidsChannel(req.AuctionID), mustJSON(OutbidEvent{
			Type: "outbid", AuctionID: req.AuctionID, PreviousWinnerID: *previousWinnerID,
			NewBidUserID: req.UserID, NewBidUsername: req.Username,
			NewBidAmount: newBid.Amount.String(), Timestamp: time.Now(),
		})); err != nil {
			p.log.Error("bidprocessor: publish outbid broadcast failed", zap.String("auction_id", req.AuctionID.String()), zap.Error(err))
		}
		p.publishNotification(ctx, notification{
			Type: "outbid", TargetUserID: *previousWinnerID, AuctionID: req.AuctionID, Timestamp: time.Now(),
		})
	}
	p.publishAudit(ctx, auditEntry{
		Type: "BID_PLACED", AuctionID: req.AuctionID, UserID: req.UserID, Success: true, Timestamp: time.Now(),
	})
	p.publishNotification(ctx, notification{
		Type: "BID_SUCCESS", TargetUserID: req.UserID, AuctionID: req.AuctionID, Timestamp: time.Now(),
	})
}

func (p *Processor) publishNotification(ctx context.Context, n notification) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Publish(ctx, p.queue.Topic(queue.TopicNotifications), []byte(n.TargetUserID.String()), mustJSON(n)); err != nil {
		p.log.Error("bidprocessor: publish notification failed", zap.String("type", n.Type), zap.Error(err))
	}
}

func (p *Processor) publishAudit(ctx context.Context, e auditEntry) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Publish(ctx, p.queue.Topic(queue.TopicAudit), []byte(e.AuctionID.String()), mustJSON(e)); err != nil {
		p.log.Error("bidprocessor: publish audit entry failed", zap.Error(err))
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable for the fixed, JSON-safe types this package
		// publishes; a marshal failure here means a programming error.
		panic(fmt.Sprintf("bidprocessor: marshal %T: %v", v, err))
	}
	return b
}
