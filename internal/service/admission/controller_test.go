package admission

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
)

func setupController(t *testing.T) *Controller {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.NewRedisCache(&config.RedisConfig{
		URL:          mr.Addr(),
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	cfg := config.AdmissionConfig{
		MaxConnectionsPerAddress:  2,
		MaxConnectionsPerIdentity: 1,
		TrackingWindow:            time.Minute,
		BlockDuration:             time.Minute,
		MaxBidsPerIdentityPerMin:  2,
	}
	return New(c, cfg, zaptest.NewLogger(t), nil)
}

func TestController_Check_AllowsUnderCap(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	d, err := ctrl.Check(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestController_Check_AddressLimitBlocks(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-1", ""))
	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-2", ""))

	d, err := ctrl.Check(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonAddressLimit, d.Reason)
	require.Greater(t, d.RetryAfter, time.Duration(0))

	// subsequent checks short-circuit via the block flag
	d, err = ctrl.Check(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonAddressBlocked, d.Reason)
}

func TestController_Check_IdentityLimitBlocks(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-1", "user-1"))

	d, err := ctrl.Check(ctx, "5.6.7.8", "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonIdentityLimit, d.Reason)
}

func TestController_TrackUntrack_RemovesFromSets(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-1", "user-1"))
	addrCount, identCount, err := ctrl.Stats(ctx, "1.2.3.4", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), addrCount)
	require.Equal(t, int64(1), identCount)

	require.NoError(t, ctrl.Untrack(ctx, "sock-1"))

	addrCount, identCount, err = ctrl.Stats(ctx, "1.2.3.4", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), addrCount)
	require.Equal(t, int64(0), identCount)
}

func TestController_Unblock(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-1", ""))
	require.NoError(t, ctrl.Track(ctx, "1.2.3.4", "sock-2", ""))
	d, err := ctrl.Check(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, ctrl.Unblock(ctx, "address", "1.2.3.4"))

	// The block flag is gone, so the check is not short-circuited as
	// address_blocked; both sockets are still tracked at the cap of 2,
	// so a third connection is denied by the cap itself.
	d, err = ctrl.Check(ctx, "1.2.3.4", "")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonAddressLimit, d.Reason)
}

func TestController_CheckBidRate(t *testing.T) {
	ctrl := setupController(t)
	ctx := t.Context()

	d, err := ctrl.CheckBidRate(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = ctrl.CheckBidRate(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = ctrl.CheckBidRate(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonBidRateLimit, d.Reason)
}
