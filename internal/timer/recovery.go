package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// Recover rebuilds timer state after a process restart. Timer handles are
// not persisted; for every auction still marked live the remaining time is
// recomputed from its start time and stored duration. Overdue auctions are
// settled immediately, the rest are re-armed.
func (r *Registry) Recover(ctx context.Context) error {
	auctions, err := r.store.ListLiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("timer: list live auctions: %w", err)
	}

	now := time.Now().UTC()
	recovered, closed := 0, 0
	for _, a := range auctions {
		remaining := a.Remaining(now)
		if remaining <= 0 {
			r.logger.Info("auction overdue at startup, closing",
				slog.Int64("auction_id", a.ID),
				slog.Duration("overdue", -remaining),
			)
			if _, err := r.closer.CloseAuction(ctx, a.ID, domain.CloseReasonTimerExpired); err != nil {
				r.logger.Error("recovery close failed",
					slog.Int64("auction_id", a.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			closed++
			continue
		}
		r.Arm(a.ID, remaining, nil)
		recovered++
	}

	r.logger.Info("timer recovery complete",
		slog.Int("rearmed", recovered),
		slog.Int("closed", closed),
	)
	return nil
}
