package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cache provides the generic key/value, set, sorted-set, pub/sub, and
// distributed-lock primitives the Admission Controller, Bid Processor,
// and Gateway are built on.
type Cache interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with optional TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX sets a value only if the key doesn't exist (atomic)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Increment atomically increments a numeric value
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets TTL on an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SAdd adds members to a set, refreshing its TTL if ttl > 0
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// SRem removes members from a set
	SRem(ctx context.Context, key string, members ...string) error

	// SCard returns the number of members in a set
	SCard(ctx context.Context, key string) (int64, error)

	// SIsMember reports whether a member belongs to a set
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// ZAdd adds a member with a score to a sorted set, used for
	// sliding-window counting (score = event timestamp)
	ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) error

	// ZRemRangeByScore removes members scored within [min, max]
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// ZCard returns the number of members in a sorted set
	ZCard(ctx context.Context, key string) (int64, error)

	// Publish broadcasts a message to a channel
	Publish(ctx context.Context, channel string, message interface{}) error

	// Subscribe returns a channel of messages published to the given
	// channels. The caller must call the returned close func when done.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error)

	// Lock attempts to acquire a distributed mutual-exclusion lock,
	// returning a token that must be passed to Unlock. ok is false if
	// the lock is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases a lock previously acquired with Lock, only if
	// token still matches the current holder (compare-and-delete).
	Unlock(ctx context.Context, key, token string) error

	// Health reports whether the cache backend is reachable.
	Health(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// RateLimiter provides rate limiting functionality using various algorithms
type RateLimiter interface {
	// Allow checks if a request is allowed under the rate limit
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Count returns the current count for a rate limit key
	Count(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset clears the rate limit counter for a key
	Reset(ctx context.Context, key string) error

	// Remaining returns how many requests are remaining in the current window
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// Key prefixes for consistent cache key naming
const (
	AdmissionAddressPrefix  = "ah:admission:addr:"
	AdmissionIdentityPrefix = "ah:admission:ident:"
	AdmissionBlockPrefix    = "ah:admission:block:"
	RateLimitPrefix         = "ah:ratelimit:"
	LockPrefix              = "ah:lock:"
	AuctionChannelPrefix    = "ah:auction:"
)

// GlobalNotificationsChannel is the single pub/sub channel every
// instance subscribes to for identity-addressed notifications. A
// Gateway instance delivers a message on this channel directly to a
// socket only when that identity is tracked locally; otherwise it is
// dropped, since some other instance owns that connection.
const GlobalNotificationsChannel = "ah:global:notifications"

// AuctionBidsChannel is the pub/sub channel a Gateway room subscribes
// to for BidUpdateEvent and OutbidEvent broadcasts: new accepted bids,
// the resulting highest-bid changes, and outbid notices for one
// auction.
func AuctionBidsChannel(auctionID uuid.UUID) string {
	return AuctionChannelPrefix + auctionID.String() + ":bids"
}

// AuctionEventsChannel is the pub/sub channel a Gateway room
// subscribes to for auction lifecycle broadcasts distinct from
// individual bid updates. The only event published on it is the
// auction-end event.
func AuctionEventsChannel(auctionID uuid.UUID) string {
	return AuctionChannelPrefix + auctionID.String() + ":events"
}

// Common TTL values
const (
	DefaultTTL    = 1 * time.Hour
	RateLimitTTL  = 1 * time.Minute
	ShortCacheTTL = 30 * time.Second
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}

// ErrRateLimitExceeded is returned when rate limit is exceeded
type ErrRateLimitExceeded struct {
	Key   string
	Limit int
}

func (e ErrRateLimitExceeded) Error() string {
	return "rate limit exceeded for key: " + e.Key
}

// ErrLockHeld is returned when Lock cannot acquire because another
// holder already owns the key.
type ErrLockHeld struct {
	Key string
}

func (e ErrLockHeld) Error() string {
	return "lock already held: " + e.Key
}
