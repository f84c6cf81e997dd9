package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vmtien/bidhub/internal/domain"
)

// AdminHandler serves the back-office endpoints that seed auctions and
// memberships. The marketplace admin panel is the only caller; routes sit
// behind API-key auth.
type AdminHandler struct {
	store  domain.Store
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given store and logger.
func NewAdminHandler(store domain.Store, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		logger: logger,
	}
}

// createAuctionRequest is the JSON body for creating a verified auction over
// a fresh listing.
type createAuctionRequest struct {
	SellerID      int64 `json:"seller_id"`
	StartingPrice int64 `json:"starting_price"`
	OriginalPrice int64 `json:"original_price"`
	TargetPrice   int64 `json:"target_price"`
	DepositAmount int64 `json:"deposit_amount"`
	BidStep       int64 `json:"bid_step"`
	DurationSec   int64 `json:"duration_sec"`
}

func (req createAuctionRequest) validate() string {
	switch {
	case req.SellerID <= 0:
		return "seller_id is required"
	case req.StartingPrice <= 0:
		return "starting_price must be positive"
	case req.TargetPrice <= req.StartingPrice:
		return "target_price must exceed starting_price"
	case req.DepositAmount <= 0:
		return "deposit_amount must be positive"
	case req.DurationSec <= 0:
		return "duration_sec must be positive"
	}
	return ""
}

// CreateAuction creates a listing and a verified auction over it. The
// auction stays inert until the start endpoint takes it live.
// POST /api/auctions
func (h *AdminHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	listingID, err := h.store.CreateListing(r.Context(), domain.ListingStatusAuctioning)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create listing failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	auctionID, err := h.store.CreateAuction(r.Context(), domain.Auction{
		ListingID:     listingID,
		SellerID:      req.SellerID,
		StartingPrice: req.StartingPrice,
		OriginalPrice: req.OriginalPrice,
		TargetPrice:   req.TargetPrice,
		DepositAmount: req.DepositAmount,
		BidStep:       req.BidStep,
		DurationSec:   req.DurationSec,
		Status:        domain.AuctionStatusVerified,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create auction failed",
			slog.Int64("listing_id", listingID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create auction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{
		"auction_id": auctionID,
		"listing_id": listingID,
	})
}

// addMemberRequest is the JSON body for registering a paid-deposit member.
type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// AddMember registers a user whose deposit has been confirmed as an auction
// member. Sellers cannot join their own auction.
// POST /api/auctions/{id}/members
func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	auctionID := pathID(r, "id")
	if auctionID == 0 {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	m, err := h.store.AddMember(r.Context(), req.UserID, auctionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "auction not found")
		case errors.Is(err, domain.ErrForbidden):
			writeError(w, http.StatusForbidden, "sellers cannot join their own auction")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "user is already a member")
		default:
			h.logger.ErrorContext(r.Context(), "handler: add member failed",
				slog.Int64("auction_id", auctionID),
				slog.Int64("user_id", req.UserID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to add member")
		}
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// GetWallet returns a user's refund wallet balance.
// GET /api/users/{id}/wallet
func (h *AdminHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := pathID(r, "id")
	if userID == 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	balance, err := h.store.GetWalletBalance(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: wallet lookup failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"user_id": userID,
		"balance": balance,
	})
}
