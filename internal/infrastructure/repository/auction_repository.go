package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightlane/auctionhouse/internal/domain/auction"
	"github.com/brightlane/auctionhouse/internal/domain/bid"
	"github.com/brightlane/auctionhouse/internal/domain/values"
)

// auctionRepository implements AuctionRepository using PostgreSQL via pgx.
type auctionRepository struct {
	pool *pgxpool.Pool
}

// NewAuctionRepository creates a new auction repository.
func NewAuctionRepository(pool *pgxpool.Pool) AuctionRepository {
	return &auctionRepository{pool: pool}
}

func (r *auctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, car_id, starting_bid, current_highest_bid, currency, bid_count,
			winner_id, status, start_time, end_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.CarID, a.StartingBid.Amount(), a.CurrentHighestBid.Amount(), a.CurrentHighestBid.Currency(),
		a.BidCount, a.WinnerID, a.Status.String(), a.StartTime, a.EndTime, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create auction: %w", WrapRepositoryError(err, "create auction"))
	}
	return nil
}

func (r *auctionRepository) FindByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	const query = `
		SELECT id, car_id, starting_bid, current_highest_bid, currency, bid_count,
			winner_id, status, start_time, end_time, created_at, updated_at
		FROM auctions WHERE id = $1
	`
	row := r.pool.QueryRow(ctx, query, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find auction: %w", err)
	}
	return a, nil
}

// ConditionalUpdateHighestBid is the Bid Processor's step-8 write: it
// only advances the row if amount still exceeds current_highest_bid
// at write time, converting a lock-TTL overrun into ErrOptimisticLock
// instead of a silently lost update.
func (r *auctionRepository) ConditionalUpdateHighestBid(ctx context.Context, id uuid.UUID, amount values.Money, winnerID uuid.UUID) (*auction.Auction, error) {
	const query = `
		UPDATE auctions
		SET current_highest_bid = $1, winner_id = $2, bid_count = bid_count + 1, updated_at = now()
		WHERE id = $3 AND current_highest_bid < $1
		RETURNING id, car_id, starting_bid, current_highest_bid, currency, bid_count,
			winner_id, status, start_time, end_time, created_at, updated_at
	`
	row := r.pool.QueryRow(ctx, query, amount.Amount(), winnerID, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOptimisticLock
		}
		return nil, fmt.Errorf("conditional update highest bid: %w", err)
	}
	return a, nil
}

func (r *auctionRepository) Update(ctx context.Context, a *auction.Auction) error {
	const query = `
		UPDATE auctions
		SET current_highest_bid = $2, bid_count = $3, winner_id = $4, status = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		a.ID, a.CurrentHighestBid.Amount(), a.BidCount, a.WinnerID, a.Status.String(), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *auctionRepository) ListActive(ctx context.Context) ([]*auction.Auction, error) {
	const query = `
		SELECT id, car_id, starting_bid, current_highest_bid, currency, bid_count,
			winner_id, status, start_time, end_time, created_at, updated_at
		FROM auctions WHERE status = 'ACTIVE' ORDER BY end_time ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auctions: %w", err)
	}
	return auctions, nil
}

// ListByAuction satisfies BidQuery by delegating to the bids table —
// the auction lifecycle collaborator's one dependency on bid data.
func (r *auctionRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	return NewBidRepository(r.pool).ListByAuction(ctx, auctionID)
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var a auction.Auction
	var startingBid, highestBid decimal.Decimal
	var currency, statusStr string

	if err := row.Scan(&a.ID, &a.CarID, &startingBid, &highestBid, &currency, &a.BidCount,
		&a.WinnerID, &statusStr, &a.StartTime, &a.EndTime, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	sb, err := values.NewMoney(startingBid, currency)
	if err != nil {
		return nil, fmt.Errorf("scan starting bid: %w", err)
	}
	hb, err := values.NewMoney(highestBid, currency)
	if err != nil {
		return nil, fmt.Errorf("scan current highest bid: %w", err)
	}
	a.StartingBid = sb
	a.CurrentHighestBid = hb
	a.Status = parseAuctionStatus(statusStr)
	return &a, nil
}

func parseAuctionStatus(s string) auction.Status {
	switch s {
	case "PENDING":
		return auction.StatusPending
	case "ACTIVE":
		return auction.StatusActive
	case "ENDED":
		return auction.StatusEnded
	default:
		return auction.StatusPending
	}
}
