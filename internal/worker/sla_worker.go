package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erp-suite/ticketflow/internal/repository"
)

// SLASweeper periodically marks open tickets past their SLA deadline as
// overdue. The derived flag is also computed on read; the sweep keeps
// the persisted column usable for filtering and stats.
type SLASweeper struct {
	tickets  repository.TicketRepository
	interval time.Duration
	logger   *zap.Logger
}

// NewSLASweeper creates the sweeper. A non-positive interval disables it.
func NewSLASweeper(tickets repository.TicketRepository, interval time.Duration, logger *zap.Logger) *SLASweeper {
	return &SLASweeper{tickets: tickets, interval: interval, logger: logger}
}

// Start launches the sweep loop until ctx is cancelled.
func (w *SLASweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("sla sweeper disabled")
		return
	}
	go w.run(ctx)
}

func (w *SLASweeper) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Sweep(ctx, now)
		}
	}
}

// Sweep runs one pass and logs how many tickets went overdue.
func (w *SLASweeper) Sweep(ctx context.Context, now time.Time) {
	marked, err := w.tickets.MarkOverdue(ctx, now)
	if err != nil {
		w.logger.Error("sla sweep failed", zap.Error(err))
		return
	}
	if marked > 0 {
		w.logger.Info("tickets marked overdue", zap.Int64("count", marked))
	}
}
