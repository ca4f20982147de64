// Package gateway is the Gateway: the WebSocket-facing transport that
// authenticates connections, groups sockets into per-auction rooms,
// and turns a place-bid intent into a message on the Queue's
// bid-placed topic. Acceptance itself is the Bid Processor's job —
// the Gateway only ever relays what the Processor and the rest of the
// fleet publish back onto the Cache's pub/sub channels.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
	"github.com/brightlane/auctionhouse/internal/metrics"
	"github.com/brightlane/auctionhouse/internal/service/admission"
	"github.com/brightlane/auctionhouse/internal/service/bidprocessor"
)

// Config holds the knobs the Gateway's socket handling needs beyond
// what admission.Controller and bidprocessor already own.
type Config struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	RoomIdleTTL    time.Duration // how long an emptied room keeps its Cache subscription alive
	Currency       string
}

// DefaultConfig returns sane defaults, mirroring the HTTP fallback's
// WebSocket timeout story in the teacher repo.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 32 * 1024,
		RoomIdleTTL:    2 * time.Minute,
		Currency:       "USD",
	}
}

// Gateway is the WebSocket-facing transport.
type Gateway struct {
	cfg       Config
	verifier  *tokenVerifier
	admission *admission.Controller
	cache     cache.Cache
	queue     *queue.Adapter
	auctions  repository.AuctionStore
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Registry

	upgrader websocket.Upgrader

	roomsMu sync.Mutex
	rooms   map[uuid.UUID]*room

	clientsMu sync.RWMutex
	clients   map[uuid.UUID]*client // by socket ID, for identity-addressed delivery
}

// New constructs a Gateway. q and reg may be nil in a degraded
// deployment; a nil queue means place-bid intents are rejected
// outright rather than silently dropped. admissionCtl must not be nil:
// every handshake calls it.
func New(gwCfg Config, securityCfg config.SecurityConfig, c cache.Cache, q *queue.Adapter, admissionCtl *admission.Controller, auctions repository.AuctionStore, logger *zap.Logger, reg *metrics.Registry) *Gateway {
	g := &Gateway{
		cfg:       gwCfg,
		verifier:  newTokenVerifier([]byte(securityCfg.JWTSecret), "auctionhouse", []string{"auctionhouse-api"}),
		admission: admissionCtl,
		cache:     c,
		queue:     q,
		auctions:  auctions,
		logger:    logger,
		tracer:    otel.Tracer("api.gateway"),
		metrics:   reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms:   make(map[uuid.UUID]*room),
		clients: make(map[uuid.UUID]*client),
	}
	return g
}

// Run starts the background relay that fans identity-addressed
// notifications from the Cache's global channel out to locally
// connected sockets. It blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ch, closeFn := g.cache.Subscribe(ctx, cache.GlobalNotificationsChannel)
	defer closeFn()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			g.deliverNotification(msg)
		}
	}
}

// ServeHTTP implements the connection sequence in order: resolve
// address, pre-auth admission check, bearer verification, post-auth
// admission check, tracking, connected acknowledgement.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := g.tracer.Start(r.Context(), "gateway.connect")
	defer span.End()

	address := resolveAddress(r)
	span.SetAttributes(attribute.String("client.address", address))

	decision, err := g.admission.Check(ctx, address, "")
	if err != nil {
		g.logger.Error("admission check (pre-auth) failed", zap.Error(err))
	}
	if !decision.Allowed {
		if g.metrics != nil {
			g.metrics.RecordAdmissionDenied(decision.Reason)
		}
		http.Error(w, decision.Reason, http.StatusTooManyRequests)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := g.verifier.verify(token)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity := claims.UserID.String()

	decision, err = g.admission.Check(ctx, address, identity)
	if err != nil {
		g.logger.Error("admission check (post-auth) failed", zap.Error(err))
	}
	if !decision.Allowed {
		if g.metrics != nil {
			g.metrics.RecordAdmissionDenied(decision.Reason)
		}
		http.Error(w, decision.Reason, http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(g, conn, claims.UserID, claims.Username, address)

	if err := g.admission.Track(ctx, address, c.id.String(), identity); err != nil {
		g.logger.Error("admission track failed", zap.Error(err))
	}

	g.clientsMu.Lock()
	g.clients[c.id] = c
	g.clientsMu.Unlock()

	conn.SetReadLimit(g.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		return nil
	})

	go c.writePump()
	go c.readPump()

	c.send(frame(eventConnected, connectedPayload{
		Message:  "connected",
		UserID:   claims.UserID,
		Username: claims.Username,
	}))

	span.SetAttributes(attribute.String("user.id", claims.UserID.String()))
}

// disconnect tears down a client: removes it from every room it
// joined, stops tracking it with the Admission Controller, and drops
// it from the identity-addressed delivery table.
func (g *Gateway) disconnect(c *client) {
	g.clientsMu.Lock()
	delete(g.clients, c.id)
	g.clientsMu.Unlock()

	for _, auctionID := range c.joinedAuctions() {
		g.leaveRoom(auctionID, c)
	}

	if err := g.admission.Untrack(context.Background(), c.id.String()); err != nil {
		g.logger.Error("admission untrack failed", zap.Error(err))
	}
}

// publishBid turns a placeBid intent into a message on the Queue's
// bid-placed topic, for the Bid Processor to arbitrate.
func (g *Gateway) publishBid(ctx context.Context, c *client, auctionID uuid.UUID, amountCents int64) error {
	if g.queue == nil {
		return fmt.Errorf("queue unavailable")
	}

	if g.admission != nil {
		decision, err := g.admission.CheckBidRate(ctx, c.userID.String())
		if err == nil && !decision.Allowed {
			return fmt.Errorf("bid rate exceeded: %s", decision.Reason)
		}
	}

	req := bidprocessor.BidRequest{
		AuctionID:   auctionID,
		UserID:      c.userID,
		AmountCents: amountCents,
		Currency:    g.cfg.Currency,
		Username:    c.username,
		SocketID:    c.id.String(),
		SubmittedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode bid request: %w", err)
	}
	return g.queue.Publish(ctx, g.queue.Topic(queue.TopicAuctionEvents), []byte(auctionID.String()), payload)
}

// resolveAddress prefers forwarding headers over the raw socket peer,
// since the Gateway typically sits behind a load balancer.
func resolveAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
