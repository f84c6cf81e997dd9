package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vmtien/bidhub/internal/domain"
	"github.com/vmtien/bidhub/internal/engine"
)

// AuctionService defines the methods that the auction handler requires from
// the engine.
type AuctionService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID, amount int64) (engine.BidResult, error)
	CloseAuction(ctx context.Context, auctionID int64, reason domain.CloseReason) (domain.CloseOutcome, error)
	StartAuction(ctx context.Context, auctionID int64) (domain.Auction, error)
}

// AuctionHandler serves auction-related HTTP endpoints.
type AuctionHandler struct {
	auctions AuctionService
	store    domain.Store
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given engine, store
// and logger.
func NewAuctionHandler(auctions AuctionService, store domain.Store, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		store:    store,
		logger:   logger,
	}
}

// placeBidRequest is the JSON body for placing a bid.
type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid submits a bid on behalf of the authenticated member.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	bidderID := callerID(r)
	if bidderID == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.auctions.PlaceBid(r.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		var rejected *domain.BidRejectedError
		if errors.As(err, &rejected) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":         "bid too low",
				"current_price": rejected.CurrentPrice,
			})
			return
		}
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrNotAMember):
			writeError(w, http.StatusForbidden, "not a member of this auction")
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusConflict, "auction is not accepting bids")
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		default:
			h.logger.ErrorContext(r.Context(), "handler: place bid failed",
				slog.Int64("auction_id", auctionID),
				slog.Int64("bidder_id", bidderID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place bid")
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// StartAuction moves a verified auction to live and arms its expiry timer.
// POST /api/auctions/{id}/start
func (h *AuctionHandler) StartAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	a, err := h.auctions.StartAuction(r.Context(), auctionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusConflict, "auction is not in verified state")
		default:
			h.logger.ErrorContext(r.Context(), "handler: start auction failed",
				slog.Int64("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to start auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// CloseAuction forces an auction closed and settles it. Closing an already
// ended auction reports the recorded outcome without settling twice.
// POST /api/auctions/{id}/close
func (h *AuctionHandler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	outcome, err := h.auctions.CloseAuction(r.Context(), auctionID, domain.CloseReasonManual)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusConflict, "auction has not started")
		default:
			h.logger.ErrorContext(r.Context(), "handler: close auction failed",
				slog.Int64("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close auction")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// GetAuction returns the current auction snapshot.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	snap, err := h.store.Snapshot(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: snapshot failed",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load auction")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// listLedgerResponse wraps the ledger listing response.
type listLedgerResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

// ListLedger returns the settlement ledger entries recorded for an auction.
// GET /api/auctions/{id}/ledger
func (h *AuctionHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	entries, err := h.store.ListLedger(r.Context(), auctionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list ledger failed",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, listLedgerResponse{Entries: entries})
}
