package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/brightlane/auctionhouse/internal/domain/auction"
	"github.com/brightlane/auctionhouse/internal/domain/bid"
	"github.com/brightlane/auctionhouse/internal/domain/user"
	"github.com/brightlane/auctionhouse/internal/domain/values"
)

// AuctionStore is the narrow capability the Bid Processor depends on:
// load an auction by identifier and conditionally advance its
// highest-bid state. Keeping this separate from BidQuery breaks the
// auction/bid module cycle the source exhibits — the Processor never
// needs to list bids, and the auction lifecycle collaborator never
// needs to write one.
type AuctionStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)

	// ConditionalUpdateHighestBid advances an auction's highest bid
	// only if amount still exceeds the row's current value at write
	// time, so a lock-TTL overrun degrades into a clean rejection
	// instead of a lost update. ErrOptimisticLock is returned when the
	// condition does not hold.
	ConditionalUpdateHighestBid(ctx context.Context, id uuid.UUID, amount values.Money, winnerID uuid.UUID) (*auction.Auction, error)
}

// BidQuery is the narrow capability the auction lifecycle collaborator
// depends on: list bids placed against one auction.
type BidQuery interface {
	ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)
}

// BidRepository persists individual bid records.
type BidRepository interface {
	Create(ctx context.Context, b *bid.Bid) error
	GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error)
	ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)

	// OutbidPriorAccepted flips every ACCEPTED bid for auctionID other
	// than keepID to OUTBID, clearing isWinning. Run as part of the
	// same logical write as the new bid's insert and the auction's
	// conditional update.
	OutbidPriorAccepted(ctx context.Context, auctionID, keepID uuid.UUID) error

	// MarkRejected compensates a bid already inserted as ACCEPTED when
	// the auction's conditional highest-bid update subsequently loses
	// the race.
	MarkRejected(ctx context.Context, id uuid.UUID) error
}

// AuctionRepository is the full persistence surface for auctions,
// composing AuctionStore with the lifecycle operations the REST admin
// surface and the scheduled ender need.
type AuctionRepository interface {
	AuctionStore
	BidQuery

	Create(ctx context.Context, a *auction.Auction) error
	Update(ctx context.Context, a *auction.Auction) error
	ListActive(ctx context.Context) ([]*auction.Auction, error)
}

// UserRepository persists user accounts.
type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByUsername(ctx context.Context, username string) (*user.User, error)
}
