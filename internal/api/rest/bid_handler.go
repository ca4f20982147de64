package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
	"github.com/brightlane/auctionhouse/internal/service/admission"
	"github.com/brightlane/auctionhouse/internal/service/bidprocessor"
)

// BidHandler serves the HTTP fallback path for placing a bid: callers
// who cannot or choose not to hold a WebSocket connection open submit
// here instead, and the request is funneled onto the same bid-placed
// queue topic the Gateway publishes to, so the Bid Processor is the
// single authoritative arbiter of acceptance regardless of transport.
type BidHandler struct {
	*BaseHandler
	users      repository.UserRepository
	auctions   repository.AuctionStore
	queue      *queue.Adapter
	admission  *admission.Controller
	currency   string
}

// NewBidHandler constructs the HTTP fallback bid handler. admissionCtl
// may be nil, in which case bid-rate admission checks are skipped for
// this transport (the Gateway is the primary enforcement point).
func NewBidHandler(base *BaseHandler, users repository.UserRepository, auctions repository.AuctionStore, q *queue.Adapter, admissionCtl *admission.Controller, currency string) *BidHandler {
	return &BidHandler{BaseHandler: base, users: users, auctions: auctions, queue: q, admission: admissionCtl, currency: currency}
}

// placeBidRequest is the wire shape of an HTTP fallback bid submission.
type placeBidRequest struct {
	AuctionID   uuid.UUID `json:"auctionId" validate:"required"`
	AmountCents int64     `json:"amountCents" validate:"required,gt=0"`
}

// placeBidResponse acknowledges enqueueing only — acceptance itself is
// asynchronous and arrives over the Gateway's per-auction broadcast or
// the notifications topic, exactly as it would for a WebSocket caller.
type placeBidResponse struct {
	Accepted bool      `json:"accepted"`
	AuctionID uuid.UUID `json:"auctionId"`
}

func (h *BidHandler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	handler := h.WrapHandler(http.MethodPost, "/bids", h.JSONHandler(func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		var req placeBidRequest
		if err := h.ParseAndValidate(data, &req); err != nil {
			return nil, err
		}

		userID, err := getUserFromContext(ctx)
		if err != nil {
			return nil, &ValidationError{Message: "authentication required"}
		}

		if h.admission != nil {
			decision, err := h.admission.CheckBidRate(ctx, userID.String())
			if err == nil && !decision.Allowed {
				return nil, &ValidationError{Message: fmt.Sprintf("bid rate exceeded: %s", decision.Reason)}
			}
		}

		u, err := h.users.GetByID(ctx, userID)
		if err != nil {
			return nil, &ValidationError{Message: "unknown user"}
		}

		bidReq := bidprocessor.BidRequest{
			AuctionID:   req.AuctionID,
			UserID:      userID,
			AmountCents: req.AmountCents,
			Currency:    h.currency,
			Username:    u.Username,
			SocketID:    "", // no socket for the HTTP fallback path
			SubmittedAt: time.Now().UTC(),
		}

		payload, err := json.Marshal(bidReq)
		if err != nil {
			return nil, fmt.Errorf("encode bid request: %w", err)
		}

		if err := h.queue.Publish(ctx, h.queue.Topic(queue.TopicAuctionEvents), []byte(req.AuctionID.String()), payload); err != nil {
			return nil, fmt.Errorf("enqueue bid: %w", err)
		}

		return placeBidResponse{Accepted: true, AuctionID: req.AuctionID}, nil
	}), WithRateLimit(20, time.Minute))

	handler(w, r)
}

// unblockRequest clears an address or identity the Admission
// Controller has blocked, per the operator override SPEC_FULL.md's
// admin surface describes.
type unblockRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=address identity"`
	Value string `json:"value" validate:"required"`
}

type unblockResponse struct {
	Unblocked bool `json:"unblocked"`
}

func (h *BidHandler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	handler := h.WrapHandler(http.MethodPost, "/admin/unblock", h.JSONHandler(func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		if h.admission == nil {
			return nil, fmt.Errorf("admission controller not configured")
		}

		var req unblockRequest
		if err := h.ParseAndValidate(data, &req); err != nil {
			return nil, err
		}

		if err := h.admission.Unblock(ctx, req.Kind, req.Value); err != nil {
			return nil, fmt.Errorf("unblock: %w", err)
		}

		return unblockResponse{Unblocked: true}, nil
	}), WithRateLimit(0, 0))

	handler(w, r)
}
