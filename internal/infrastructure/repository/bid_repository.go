package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightlane/auctionhouse/internal/domain/bid"
)

// bidRepository implements BidRepository using PostgreSQL via pgx.
type bidRepository struct {
	pool *pgxpool.Pool
}

// NewBidRepository creates a new bid repository.
func NewBidRepository(pool *pgxpool.Pool) BidRepository {
	return &bidRepository{pool: pool}
}

func (r *bidRepository) Create(ctx context.Context, b *bid.Bid) error {
	const query = `
		INSERT INTO bids (id, auction_id, user_id, amount, currency, status, is_winning, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		b.ID, b.AuctionID, b.UserID, b.Amount.Amount(), b.Amount.Currency(),
		b.Status.String(), b.IsWinning, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bid: %w", WrapRepositoryError(err, "create bid"))
	}
	return nil
}

func (r *bidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	const query = `
		SELECT id, auction_id, user_id, amount, currency, status, is_winning, created_at, updated_at
		FROM bids WHERE id = $1
	`
	row := r.pool.QueryRow(ctx, query, id)
	b, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bid: %w", err)
	}
	return b, nil
}

func (r *bidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	const query = `
		SELECT id, auction_id, user_id, amount, currency, status, is_winning, created_at, updated_at
		FROM bids WHERE auction_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids by auction: %w", err)
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return bids, nil
}

// OutbidPriorAccepted flips every ACCEPTED bid for auctionID other
// than keepID to OUTBID, clearing isWinning — step 7 of the Bid
// Processor's per-message algorithm.
func (r *bidRepository) OutbidPriorAccepted(ctx context.Context, auctionID, keepID uuid.UUID) error {
	const query = `
		UPDATE bids SET status = 'OUTBID', is_winning = false, updated_at = now()
		WHERE auction_id = $1 AND id != $2 AND status = 'ACCEPTED'
	`
	if _, err := r.pool.Exec(ctx, query, auctionID, keepID); err != nil {
		return fmt.Errorf("outbid prior accepted bids: %w", err)
	}
	return nil
}

// MarkRejected flips a bid to REJECTED. Used by the Bid Processor to
// compensate a bid it already inserted as ACCEPTED once the auction's
// conditional highest-bid update loses the race (step 8's rollback).
func (r *bidRepository) MarkRejected(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE bids SET status = 'REJECTED', is_winning = false, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark bid rejected: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBid(row rowScanner) (*bid.Bid, error) {
	var b bid.Bid
	var statusStr, currency string
	var amount decimal.Decimal

	if err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &amount, &currency,
		&statusStr, &b.IsWinning, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	m, err := moneyFromScan(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("scan bid amount: %w", err)
	}
	b.Amount = m
	b.Status = parseBidStatus(statusStr)
	b.Timestamp = b.CreatedAt
	return &b, nil
}

func parseBidStatus(s string) bid.Status {
	switch s {
	case "PENDING":
		return bid.StatusPending
	case "ACCEPTED":
		return bid.StatusAccepted
	case "REJECTED":
		return bid.StatusRejected
	case "OUTBID":
		return bid.StatusOutbid
	default:
		return bid.StatusPending
	}
}
