package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client is one connected socket. A single user may hold several
// clients open at once (multiple tabs, devices); delivery that targets
// a user fans out to every client for that userID.
type client struct {
	id       uuid.UUID
	userID   uuid.UUID
	username string
	address  string

	conn *websocket.Conn
	out  chan serverFrame
	gw   *Gateway

	roomsMu sync.Mutex
	rooms   map[uuid.UUID]bool

	closeOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn, userID uuid.UUID, username, address string) *client {
	return &client{
		id:       uuid.New(),
		userID:   userID,
		username: username,
		address:  address,
		conn:     conn,
		out:      make(chan serverFrame, 256),
		gw:       gw,
		rooms:    make(map[uuid.UUID]bool),
	}
}

func (c *client) joinedAuctions() []uuid.UUID {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// send enqueues a frame for delivery, dropping it if the client's
// buffer is full rather than blocking the caller (a slow reader should
// never stall the room it is in).
func (c *client) send(f serverFrame) {
	select {
	case c.out <- f:
	default:
		c.gw.logger.Warn("client send buffer full, dropping frame", zap.String("client_id", c.id.String()), zap.String("event", f.Event))
	}
}

func (c *client) sendError(message string) {
	c.send(frame(eventError, errorPayload{Message: message}))
}

// readPump decodes inbound frames until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.closeOnce.Do(func() {
			c.gw.disconnect(c)
			close(c.out)
		})
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gw.logger.Debug("websocket read error", zap.Error(err), zap.String("client_id", c.id.String()))
			}
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.handle(env)
	}
}

// writePump flushes outbound frames and keeps the connection alive
// with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				c.gw.logger.Error("marshal outbound frame failed", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one decoded client frame to its operation.
func (c *client) handle(env clientEnvelope) {
	ctx := context.Background()

	switch env.Event {
	case "joinAuction":
		c.gw.joinRoom(ctx, env.AuctionID, c)
	case "leaveAuction":
		c.gw.leaveRoom(env.AuctionID, c)
	case "placeBid":
		if err := c.gw.publishBid(ctx, c, env.AuctionID, env.BidAmount); err != nil {
			c.sendError(err.Error())
			return
		}
		c.send(frame(eventBidReceived, bidReceivedPayload{Message: "bid submitted"}))
	default:
		c.sendError("unknown event: " + env.Event)
	}
}
