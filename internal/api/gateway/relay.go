package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
)

// notification mirrors the wire shape bidprocessor.Processor publishes
// on the Queue's notifications topic. It is addressed to a single
// identity, which may be connected to any instance in the fleet — the
// Queue only guarantees delivery to one consumer group member, so that
// member's job is to fan it out onto the Cache's global channel every
// instance listens on.
type notification struct {
	Type         string    `json:"type"`
	TargetUserID uuid.UUID `json:"targetUserId"`
	AuctionID    uuid.UUID `json:"auctionId"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NotificationRelay consumes the Queue's notifications topic and
// republishes each message onto the Cache's global notifications
// channel, bridging the Bid Processor's identity-addressed output (it
// only knows the Queue) to the Gateway fleet's delivery mechanism (it
// only knows the Cache).
type NotificationRelay struct {
	queue  *queue.Adapter
	cache  cache.Cache
	logger *zap.Logger
}

func NewNotificationRelay(q *queue.Adapter, c cache.Cache, logger *zap.Logger) *NotificationRelay {
	return &NotificationRelay{queue: q, cache: c, logger: logger}
}

// Run consumes until ctx is cancelled or the Queue returns an error.
func (r *NotificationRelay) Run(ctx context.Context) error {
	return r.queue.Consume(ctx, []string{r.queue.Topic(queue.TopicNotifications)}, r.relay)
}

func (r *NotificationRelay) relay(ctx context.Context, msg queue.Message) error {
	var n notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("relay: decode notification: %w", err)
	}
	return r.cache.Publish(ctx, cache.GlobalNotificationsChannel, msg.Value)
}

// deliverNotification handles one message off the Cache's global
// channel: if the targeted identity has a socket on this instance, it
// is translated into the matching outbound wire event; otherwise it is
// dropped silently, since some other instance owns that connection.
func (g *Gateway) deliverNotification(msg cache.Message) {
	var n notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		g.logger.Error("deliverNotification: decode failed", zap.Error(err))
		return
	}

	g.clientsMu.RLock()
	targets := make([]*client, 0, 1)
	for _, c := range g.clients {
		if c.userID == n.TargetUserID {
			targets = append(targets, c)
		}
	}
	g.clientsMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	switch n.Type {
	case "outbid":
		for _, c := range targets {
			c.send(frame(eventOutbid, outbidPayload{
				AuctionID: n.AuctionID,
				Message:   "you have been outbid",
			}))
		}
	case "BID_SUCCESS":
		for _, c := range targets {
			c.send(frame(eventBidReceived, bidReceivedPayload{Message: "bid accepted"}))
		}
	case "BID_FAILED":
		for _, c := range targets {
			c.send(frame(eventError, errorPayload{Message: "bid rejected: " + n.Reason}))
		}
	case "auctionWon":
		for _, c := range targets {
			c.send(frame(eventAuctionWon, auctionWonPayload{
				AuctionID: n.AuctionID,
				Message:   "you won the auction",
			}))
		}
	case "auctionEnd":
		for _, c := range targets {
			c.send(frame(eventAuctionEnd, auctionEndPayload{
				AuctionID: n.AuctionID,
				WinnerID:  &n.TargetUserID,
				Message:   "auction ended",
			}))
		}
	}
}
