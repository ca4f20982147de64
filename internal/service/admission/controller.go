// Package admission implements the Admission Controller: a Cache-backed
// policy module the Gateway consults before accepting a socket and
// before letting it place bids, limiting concurrent connections per
// client address and per identity and temporarily blocking offenders.
package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/metrics"
)

// Reason codes returned in a denied Decision.
const (
	ReasonAddressBlocked  = "address_blocked"
	ReasonIdentityBlocked = "identity_blocked"
	ReasonAddressLimit    = "address_limit"
	ReasonIdentityLimit   = "identity_limit"
	ReasonBidRateLimit    = "bid_rate_limit"
)

const socketDescPrefix = "ah:admission:socket:"
const bidRatePrefix = "ah:admission:bidrate:"

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// socketDescriptor is the per-socket record Track writes, looked up by
// Untrack to know which sets to remove the socket from.
type socketDescriptor struct {
	Address     string    `json:"address"`
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Controller is the Admission Controller.
type Controller struct {
	cache   cache.Cache
	cfg     config.AdmissionConfig
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New constructs a Controller. metrics may be nil.
func New(c cache.Cache, cfg config.AdmissionConfig, logger *zap.Logger, reg *metrics.Registry) *Controller {
	return &Controller{cache: c, cfg: cfg, logger: logger, metrics: reg}
}

func addrSetKey(address string) string { return cache.AdmissionAddressPrefix + address }
func identSetKey(identity string) string { return cache.AdmissionIdentityPrefix + identity }
func addrBlockKey(address string) string { return cache.AdmissionBlockPrefix + "addr:" + address }
func identBlockKey(identity string) string { return cache.AdmissionBlockPrefix + "ident:" + identity }

// Check evaluates whether a connection from address (and, once
// authenticated, identity) may proceed. identity may be empty for the
// pre-authentication check. On Cache failure admission is granted and
// a warning is logged: availability of bidding is prioritized over
// strict admission when the rate fabric itself is degraded.
func (c *Controller) Check(ctx context.Context, address, identity string) (Decision, error) {
	if d, err := c.checkBlock(ctx, addrBlockKey(address), ReasonAddressBlocked); err != nil {
		return c.failOpen(err)
	} else if !d.Allowed {
		c.deny(d.Reason)
		return d, nil
	}

	if identity != "" {
		if d, err := c.checkBlock(ctx, identBlockKey(identity), ReasonIdentityBlocked); err != nil {
			return c.failOpen(err)
		} else if !d.Allowed {
			c.deny(d.Reason)
			return d, nil
		}
	}

	count, err := c.cache.SCard(ctx, addrSetKey(address))
	if err != nil {
		return c.failOpen(err)
	}
	if count >= int64(c.cfg.MaxConnectionsPerAddress) {
		d, err := c.block(ctx, addrBlockKey(address), ReasonAddressLimit)
		if err != nil {
			return c.failOpen(err)
		}
		c.deny(d.Reason)
		return d, nil
	}

	if identity != "" {
		count, err := c.cache.SCard(ctx, identSetKey(identity))
		if err != nil {
			return c.failOpen(err)
		}
		if count >= int64(c.cfg.MaxConnectionsPerIdentity) {
			d, err := c.block(ctx, identBlockKey(identity), ReasonIdentityLimit)
			if err != nil {
				return c.failOpen(err)
			}
			c.deny(d.Reason)
			return d, nil
		}
	}

	return Decision{Allowed: true}, nil
}

func (c *Controller) checkBlock(ctx context.Context, key, reason string) (Decision, error) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if _, ok := err.(cache.ErrCacheKeyNotFound); ok {
			return Decision{Allowed: true}, nil
		}
		return Decision{}, err
	}

	expiresUnix, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		// Corrupt value: treat as not blocked rather than failing the request.
		return Decision{Allowed: true}, nil
	}
	remaining := time.Until(time.Unix(expiresUnix, 0))
	if remaining <= 0 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: remaining}, nil
}

func (c *Controller) block(ctx context.Context, key, reason string) (Decision, error) {
	expiresAt := time.Now().Add(c.cfg.BlockDuration)
	value := strconv.FormatInt(expiresAt.Unix(), 10)
	if err := c.cache.Set(ctx, key, value, c.cfg.BlockDuration); err != nil {
		return Decision{}, err
	}
	if c.metrics != nil {
		c.metrics.AdmissionBlocksOpen.Inc()
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: c.cfg.BlockDuration}, nil
}

func (c *Controller) deny(reason string) {
	if c.metrics != nil {
		c.metrics.RecordAdmissionDenied(reason)
	}
}

func (c *Controller) failOpen(err error) (Decision, error) {
	c.logger.Warn("admission: cache unavailable, granting by policy", zap.Error(err))
	return Decision{Allowed: true}, nil
}

// Track records socketID as connected from address and, if identity is
// non-empty, as belonging to that identity, refreshing both sets' TTL
// and writing a per-socket descriptor for Untrack to consult later.
func (c *Controller) Track(ctx context.Context, address, socketID, identity string) error {
	window := c.cfg.TrackingWindow
	if err := c.cache.SAdd(ctx, addrSetKey(address), window, socketID); err != nil {
		return fmt.Errorf("admission: track address: %w", err)
	}
	if identity != "" {
		if err := c.cache.SAdd(ctx, identSetKey(identity), window, socketID); err != nil {
			return fmt.Errorf("admission: track identity: %w", err)
		}
	}

	desc := socketDescriptor{Address: address, Identity: identity, ConnectedAt: time.Now()}
	if err := c.cache.SetJSON(ctx, socketDescPrefix+socketID, desc, window); err != nil {
		return fmt.Errorf("admission: write socket descriptor: %w", err)
	}
	if c.metrics != nil {
		c.metrics.AdmissionsTracked.Inc()
	}
	return nil
}

// Untrack reverses Track: it removes socketID from its address and
// identity sets (deleting either set once empty) and deletes the
// socket descriptor.
func (c *Controller) Untrack(ctx context.Context, socketID string) error {
	var desc socketDescriptor
	if err := c.cache.GetJSON(ctx, socketDescPrefix+socketID, &desc); err != nil {
		if _, ok := err.(cache.ErrCacheKeyNotFound); ok {
			return nil
		}
		return fmt.Errorf("admission: read socket descriptor: %w", err)
	}

	if err := c.removeFromSet(ctx, addrSetKey(desc.Address), socketID); err != nil {
		return err
	}
	if desc.Identity != "" {
		if err := c.removeFromSet(ctx, identSetKey(desc.Identity), socketID); err != nil {
			return err
		}
	}

	if err := c.cache.Delete(ctx, socketDescPrefix+socketID); err != nil {
		return fmt.Errorf("admission: delete socket descriptor: %w", err)
	}
	if c.metrics != nil {
		c.metrics.AdmissionsTracked.Dec()
	}
	return nil
}

func (c *Controller) removeFromSet(ctx context.Context, key, socketID string) error {
	if err := c.cache.SRem(ctx, key, socketID); err != nil {
		return fmt.Errorf("admission: remove from set %s: %w", key, err)
	}
	remaining, err := c.cache.SCard(ctx, key)
	if err != nil {
		return fmt.Errorf("admission: count set %s: %w", key, err)
	}
	if remaining == 0 {
		if err := c.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("admission: delete empty set %s: %w", key, err)
		}
	}
	return nil
}

// Stats returns the current tracked-connection counts for address and
// (if non-empty) identity.
func (c *Controller) Stats(ctx context.Context, address, identity string) (addressCount, identityCount int64, err error) {
	addressCount, err = c.cache.SCard(ctx, addrSetKey(address))
	if err != nil {
		return 0, 0, err
	}
	if identity == "" {
		return addressCount, 0, nil
	}
	identityCount, err = c.cache.SCard(ctx, identSetKey(identity))
	if err != nil {
		return 0, 0, err
	}
	return addressCount, identityCount, nil
}

// Unblock clears a standing block flag administratively. kind is
// "address" or "identity".
func (c *Controller) Unblock(ctx context.Context, kind, value string) error {
	switch kind {
	case "address":
		return c.cache.Delete(ctx, addrBlockKey(value))
	case "identity":
		return c.cache.Delete(ctx, identBlockKey(value))
	default:
		return fmt.Errorf("admission: unknown unblock kind %q", kind)
	}
}

// CheckBidRate enforces the per-identity bid-rate cap using a sliding
// one-minute window of timestamped entries in a sorted set, recording
// the bid's timestamp only when the bid is allowed through.
func (c *Controller) CheckBidRate(ctx context.Context, identity string) (Decision, error) {
	key := bidRatePrefix + identity
	now := time.Now()
	windowStart := now.Add(-time.Minute)

	if err := c.cache.ZRemRangeByScore(ctx, key, 0, float64(windowStart.UnixNano())); err != nil {
		return c.failOpen(err)
	}
	count, err := c.cache.ZCard(ctx, key)
	if err != nil {
		return c.failOpen(err)
	}
	if count >= int64(c.cfg.MaxBidsPerIdentityPerMin) {
		c.deny(ReasonBidRateLimit)
		return Decision{Allowed: false, Reason: ReasonBidRateLimit, RetryAfter: time.Minute}, nil
	}

	member := uuid.New().String()
	if err := c.cache.ZAdd(ctx, key, float64(now.UnixNano()), member, time.Minute); err != nil {
		return c.failOpen(err)
	}
	return Decision{Allowed: true}, nil
}
