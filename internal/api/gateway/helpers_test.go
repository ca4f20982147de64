package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
)

func newTestRequest(t *testing.T, headers map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

func cacheMessage(payload string) cache.Message {
	return cache.Message{Channel: cache.GlobalNotificationsChannel, Payload: payload}
}
