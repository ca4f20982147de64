package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/service/auctionlifecycle"
	"github.com/brightlane/auctionhouse/internal/service/bidprocessor"
)

// room is one auction's set of locally connected sockets. Cache
// pub/sub subscription is per-instance, not per-socket: every socket
// in the room shares the one subscription goroutine, and the room
// keeps it alive for a grace period after emptying so a quick rejoin
// does not pay the subscribe/unsubscribe cost against the bus again.
type room struct {
	auctionID uuid.UUID

	mu      sync.Mutex
	clients map[uuid.UUID]*client

	cancel   context.CancelFunc
	idleTimer *time.Timer
}

// joinRoom validates the auction exists, adds c to its room (lazily
// subscribing the instance to the auction's Cache channels on first
// join), and emits the current snapshot to the joiner and a
// user-joined notice to the rest of the room.
func (g *Gateway) joinRoom(ctx context.Context, auctionID uuid.UUID, c *client) {
	a, err := g.auctions.FindByID(ctx, auctionID)
	if err != nil {
		c.sendError("auction not found")
		return
	}

	g.roomsMu.Lock()
	rm, exists := g.rooms[auctionID]
	if !exists {
		rm = &room{auctionID: auctionID, clients: make(map[uuid.UUID]*client)}
		g.rooms[auctionID] = rm
		g.startRoomSubscription(rm)
	}
	g.roomsMu.Unlock()

	rm.mu.Lock()
	if rm.idleTimer != nil {
		rm.idleTimer.Stop()
		rm.idleTimer = nil
	}
	rm.clients[c.id] = c
	rm.mu.Unlock()

	c.roomsMu.Lock()
	c.rooms[auctionID] = true
	c.roomsMu.Unlock()

	c.send(frame(eventAuctionUpdate, auctionUpdatePayload{
		AuctionID:         a.ID,
		CurrentHighestBid: a.CurrentHighestBid.String(),
		BidCount:          a.BidCount,
		Status:            a.Status.String(),
	}))

	rm.broadcastExcept(c.id, frame(eventUserJoined, userPresencePayload{UserID: c.userID, Username: c.username}))
}

// leaveRoom removes c from auctionID's room. If the room becomes
// empty locally, its Cache subscription is kept alive for RoomIdleTTL
// before being torn down.
func (g *Gateway) leaveRoom(auctionID uuid.UUID, c *client) {
	g.roomsMu.Lock()
	rm, ok := g.rooms[auctionID]
	g.roomsMu.Unlock()
	if !ok {
		return
	}

	c.roomsMu.Lock()
	delete(c.rooms, auctionID)
	c.roomsMu.Unlock()

	rm.mu.Lock()
	delete(rm.clients, c.id)
	empty := len(rm.clients) == 0
	rm.mu.Unlock()

	if !empty {
		rm.broadcastExcept(c.id, frame(eventUserLeft, userPresencePayload{UserID: c.userID, Username: c.username}))
		return
	}

	rm.mu.Lock()
	rm.idleTimer = time.AfterFunc(g.cfg.RoomIdleTTL, func() {
		g.roomsMu.Lock()
		defer g.roomsMu.Unlock()
		rm.mu.Lock()
		stillEmpty := len(rm.clients) == 0
		rm.mu.Unlock()
		if stillEmpty {
			rm.cancel()
			delete(g.rooms, auctionID)
		}
	})
	rm.mu.Unlock()
}

// startRoomSubscription subscribes the instance once to the room's
// bid and event channels and fans every delivery out to locally
// connected sockets until the room's context is cancelled.
func (g *Gateway) startRoomSubscription(rm *room) {
	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel

	ch, closeFn := g.cache.Subscribe(ctx,
		cache.AuctionBidsChannel(rm.auctionID),
		cache.AuctionEventsChannel(rm.auctionID),
	)

	go func() {
		defer closeFn()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				rm.dispatch(msg)
			}
		}
	}()
}

// dispatch turns a raw Cache pub/sub delivery into the wire event the
// room's sockets expect.
func (rm *room) dispatch(msg cache.Message) {
	switch msg.Channel {
	case cache.AuctionBidsChannel(rm.auctionID):
		rm.dispatchBidsChannel(msg)
	case cache.AuctionEventsChannel(rm.auctionID):
		rm.dispatchEventsChannel(msg)
	}
}

// dispatchBidsChannel handles bidUpdate and outbid payloads, which
// share one channel and are told apart by their "type" field.
func (rm *room) dispatchBidsChannel(msg cache.Message) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &disc); err != nil {
		return
	}

	switch disc.Type {
	case "outbid":
		var evt bidprocessor.OutbidEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			return
		}
		rm.broadcast(frame(eventOutbid, outbidPayload{
			AuctionID:    evt.AuctionID,
			NewBidAmount: evt.NewBidAmount,
			NewBidUser:   evt.NewBidUsername,
			Message:      "a higher bid has been placed",
		}))
	default:
		var evt bidprocessor.BidUpdateEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			return
		}
		rm.broadcast(frame(eventBidUpdate, bidUpdatePayload{
			AuctionID: evt.AuctionID,
			BidID:     evt.BidID,
			UserID:    evt.UserID,
			BidAmount: evt.Amount,
			Timestamp: evt.Timestamp,
			User:      evt.Username,
		}))
	}
}

// dispatchEventsChannel handles the auction lifecycle collaborator's
// auction-end broadcast: the whole room gets auctionEnd, and if the
// winner is connected locally they additionally get auctionWon via
// deliverNotification on the global channel — this path only ever
// builds the room-wide frame.
func (rm *room) dispatchEventsChannel(msg cache.Message) {
	var evt auctionlifecycle.EndEvent
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		return
	}
	rm.broadcast(frame(eventAuctionEnd, auctionEndPayload{
		AuctionID:  evt.AuctionID,
		WinningBid: evt.WinningBid,
		WinnerID:   evt.WinnerID,
		Message:    "auction ended",
	}))
}

func (rm *room) broadcast(f serverFrame) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, c := range rm.clients {
		c.send(f)
	}
}

func (rm *room) broadcastExcept(exclude uuid.UUID, f serverFrame) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for id, c := range rm.clients {
		if id == exclude {
			continue
		}
		c.send(f)
	}
}
