package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories holds all repository instances wired against a single
// connection pool.
type Repositories struct {
	Auction AuctionRepository
	Bid     BidRepository
	User    UserRepository
}

// NewRepositories creates a new repository collection.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Auction: NewAuctionRepository(pool),
		Bid:     NewBidRepository(pool),
		User:    NewUserRepository(pool),
	}
}
