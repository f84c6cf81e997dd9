package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	store  domain.Store
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the given store and logger.
func NewHealthHandler(store domain.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

// HealthCheck reports liveness plus the number of auctions currently live.
// A store failure still answers 200; the probe is for process liveness, not
// database health.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	liveAuctions := -1
	if live, err := h.store.ListLiveAuctions(r.Context()); err == nil {
		liveAuctions = len(live)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"service":       "bidhub",
		"live_auctions": liveAuctions,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}
