package gateway

import (
	"time"

	"github.com/google/uuid"
)

// clientEnvelope is the shape every inbound client frame is decoded
// into first; the event name selects which payload fields apply.
type clientEnvelope struct {
	Event     string    `json:"event"`
	AuctionID uuid.UUID `json:"auctionId,omitempty"`
	BidAmount int64     `json:"bidAmount,omitempty"`
}

// Outbound event names, exactly as external clients expect them.
const (
	eventConnected     = "connected"
	eventAuctionUpdate = "auctionUpdate"
	eventBidReceived   = "bidReceived"
	eventBidUpdate     = "bidUpdate"
	eventOutbid        = "outbid"
	eventAuctionEnd    = "auctionEnd"
	eventAuctionWon    = "auctionWon"
	eventUserJoined    = "userJoined"
	eventUserLeft      = "userLeft"
	eventError         = "error"
)

// serverFrame is the envelope every outbound message is wrapped in:
// {"event": "...", "data": {...}}.
type serverFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func frame(event string, data interface{}) serverFrame {
	return serverFrame{Event: event, Data: data}
}

type connectedPayload struct {
	Message  string    `json:"message"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type auctionUpdatePayload struct {
	AuctionID         uuid.UUID `json:"auctionId"`
	CurrentHighestBid string    `json:"currentHighestBid"`
	BidCount          int       `json:"bidCount"`
	Status            string    `json:"status"`
}

type bidReceivedPayload struct {
	Message string `json:"message"`
}

type bidUpdatePayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	BidID     uuid.UUID `json:"bidId"`
	UserID    uuid.UUID `json:"userId"`
	BidAmount string    `json:"bidAmount"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
}

type outbidPayload struct {
	AuctionID    uuid.UUID `json:"auctionId"`
	NewBidAmount string    `json:"newBidAmount"`
	NewBidUser   string    `json:"newBidUser"`
	Message      string    `json:"message"`
}

type auctionEndPayload struct {
	AuctionID  uuid.UUID  `json:"auctionId"`
	WinningBid string     `json:"winningBid"`
	WinnerID   *uuid.UUID `json:"winnerId,omitempty"`
	Message    string     `json:"message"`
}

type auctionWonPayload struct {
	AuctionID  uuid.UUID `json:"auctionId"`
	WinningBid string    `json:"winningBid"`
	Message    string    `json:"message"`
}

type userPresencePayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

type errorPayload struct {
	Message string `json:"message"`
}
