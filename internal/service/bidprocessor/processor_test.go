package bidprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightlane/auctionhouse/internal/domain/auction"
	"github.com/brightlane/auctionhouse/internal/domain/bid"
	"github.com/brightlane/auctionhouse/internal/domain/user"
	"github.com/brightlane/auctionhouse/internal/domain/values"
	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
)

type fakeAuctionStore struct {
	auction *auction.Auction
	updateErr error
}

func (f *fakeAuctionStore) FindByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	cp := *f.auction
	return &cp, nil
}

func (f *fakeAuctionStore) ConditionalUpdateHighestBid(ctx context.Context, id uuid.UUID, amount values.Money, winnerID uuid.UUID) (*auction.Auction, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if amount.Compare(f.auction.CurrentHighestBid) <= 0 {
		return nil, errOptimisticLock
	}
	f.auction.CurrentHighestBid = amount
	f.auction.WinnerID = &winnerID
	f.auction.BidCount++
	cp := *f.auction
	return &cp, nil
}

type fakeBidRepository struct {
	created          []*bid.Bid
	outbidCalled     bool
	rejected         map[uuid.UUID]bool
}

func (f *fakeBidRepository) Create(ctx context.Context, b *bid.Bid) error {
	f.created = append(f.created, b)
	return nil
}
func (f *fakeBidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	for _, b := range f.created {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, nil
}
func (f *fakeBidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	return f.created, nil
}
func (f *fakeBidRepository) OutbidPriorAccepted(ctx context.Context, auctionID, keepID uuid.UUID) error {
	f.outbidCalled = true
	return nil
}
func (f *fakeBidRepository) MarkRejected(ctx context.Context, id uuid.UUID) error {
	if f.rejected == nil {
		f.rejected = make(map[uuid.UUID]bool)
	}
	f.rejected[id] = true
	return nil
}

type fakeUserRepository struct {
	users map[uuid.UUID]*user.User
}

func (f *fakeUserRepository) Create(ctx context.Context, u *user.User) error { return nil }
func (f *fakeUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}
func (f *fakeUserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return nil, errNotFound
}

var errOptimisticLock = repoErr("optimistic lock")
var errNotFound = repoErr("not found")

type repoErr string

func (e repoErr) Error() string { return string(e) }

func setupCache(t *testing.T) cache.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.NewRedisCache(&config.RedisConfig{
		URL: mr.Addr(), PoolSize: 5, MinIdleConns: 1, MaxRetries: 3,
		DialTimeout: 5 * time.Second, ReadTimeout: 3 * time.Second, WriteTimeout: 3 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestUser(t *testing.T) *user.User {
	email, err := values.NewEmail("bidder@example.com")
	require.NoError(t, err)
	u, err := user.New("bidder", email, "hash")
	require.NoError(t, err)
	return u
}

func newTestAuction(t *testing.T, highest int64) *auction.Auction {
	startingBid, err := values.NewMoneyFromCents(1000, "USD")
	require.NoError(t, err)
	a, err := auction.New(uuid.New(), startingBid, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, a.Activate())
	hb, err := values.NewMoneyFromCents(highest, "USD")
	require.NoError(t, err)
	a.CurrentHighestBid = hb
	a.BidCount = 1
	return a
}

func TestProcessor_AcceptsValidBid(t *testing.T) {
	u := newTestUser(t)
	a := newTestAuction(t, 1000)
	store := &fakeAuctionStore{auction: a}
	bids := &fakeBidRepository{}
	users := &fakeUserRepository{users: map[uuid.UUID]*user.User{u.ID: u}}

	p := New(store, bids, users, setupCache(t), nil, config.AuctionConfig{
		BidIncrementCents: 100, Currency: "USD", LockTTL: 10 * time.Second,
	}, zaptest.NewLogger(t), nil)

	req := BidRequest{AuctionID: a.ID, UserID: u.ID, AmountCents: 1100, Currency: "USD", Username: u.Username, SubmittedAt: time.Now()}
	err := p.process(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, bids.created, 1)
	require.True(t, bids.created[0].IsWinning)
	require.True(t, bids.outbidCalled)
}

func TestProcessor_RejectsBidBelowMinimum(t *testing.T) {
	u := newTestUser(t)
	a := newTestAuction(t, 1000)
	store := &fakeAuctionStore{auction: a}
	bids := &fakeBidRepository{}
	users := &fakeUserRepository{users: map[uuid.UUID]*user.User{u.ID: u}}

	p := New(store, bids, users, setupCache(t), nil, config.AuctionConfig{
		BidIncrementCents: 100, Currency: "USD", LockTTL: 10 * time.Second,
	}, zaptest.NewLogger(t), nil)

	req := BidRequest{AuctionID: a.ID, UserID: u.ID, AmountCents: 1050, Currency: "USD", SubmittedAt: time.Now()}
	err := p.process(t.Context(), req)
	require.Error(t, err)
	require.Empty(t, bids.created)
}

func TestProcessor_RejectsWhenAuctionNotActive(t *testing.T) {
	u := newTestUser(t)
	startingBid, err := values.NewMoneyFromCents(1000, "USD")
	require.NoError(t, err)
	a, err := auction.New(uuid.New(), startingBid, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err) // left PENDING, never activated

	store := &fakeAuctionStore{auction: a}
	bids := &fakeBidRepository{}
	users := &fakeUserRepository{users: map[uuid.UUID]*user.User{u.ID: u}}

	p := New(store, bids, users, setupCache(t), nil, config.AuctionConfig{
		BidIncrementCents: 100, Currency: "USD", LockTTL: 10 * time.Second,
	}, zaptest.NewLogger(t), nil)

	req := BidRequest{AuctionID: a.ID, UserID: u.ID, AmountCents: 1100, Currency: "USD", SubmittedAt: time.Now()}
	err = p.process(t.Context(), req)
	require.Error(t, err)
	require.Empty(t, bids.created)
}

func TestProcessor_CompensatesOnLostRace(t *testing.T) {
	u := newTestUser(t)
	a := newTestAuction(t, 1000)
	store := &fakeAuctionStore{auction: a, updateErr: errOptimisticLock}
	bids := &fakeBidRepository{}
	users := &fakeUserRepository{users: map[uuid.UUID]*user.User{u.ID: u}}

	p := New(store, bids, users, setupCache(t), nil, config.AuctionConfig{
		BidIncrementCents: 100, Currency: "USD", LockTTL: 10 * time.Second,
	}, zaptest.NewLogger(t), nil)

	req := BidRequest{AuctionID: a.ID, UserID: u.ID, AmountCents: 1100, Currency: "USD", SubmittedAt: time.Now()}
	err := p.process(t.Context(), req)
	require.Error(t, err)
	require.Len(t, bids.created, 1)
	require.True(t, bids.rejected[bids.created[0].ID])
	// The outbid sweep runs before the conditional update (it must, to
	// avoid colliding with the is_winning partial unique index), so it
	// has already run by the time the race is detected as lost.
	require.True(t, bids.outbidCalled)
}
