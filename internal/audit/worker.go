package audit

import (
	"context"
	"log/slog"
	"time"

	"checkline/internal/compliance/models"
)

const appendTimeout = 10 * time.Second

// worker drains the publisher's inbox until it is closed.
type worker struct {
	store   Store
	inbox   <-chan models.AuditLogEntry
	logger  *slog.Logger
	metrics *Metrics
}

func newWorker(store Store, inbox <-chan models.AuditLogEntry, logger *slog.Logger, metrics *Metrics) *worker {
	return &worker{store: store, inbox: inbox, logger: logger, metrics: metrics}
}

func (w *worker) run() {
	for entry := range w.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		_, err := w.store.Create(ctx, entry)
		cancel()
		w.metrics.observe(entry.Action, err)
		if err != nil {
			w.logger.Error("audit append failed",
				"action", string(entry.Action),
				"performing_user_id", entry.PerformingUserID,
				"error", err,
			)
		}
	}
}
