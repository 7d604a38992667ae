package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/logging"
)

// Worker runs the aggregator once a day at a fixed UTC time (default 02:00),
// always against the previous day. A single instance runs per process so the
// per-entry-per-day upserts stay serialized.
type Worker struct {
	agg       *Aggregator
	hour      int
	minute    int
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWorker starts the daily schedule.
func NewWorker(agg *Aggregator, cfg config.AggregationConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	w := &Worker{
		agg:    agg,
		hour:   cfg.Hour,
		minute: cfg.Minute,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		timer := time.NewTimer(time.Until(w.nextRun(time.Now())))
		select {
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			if _, err := w.agg.AggregateYesterday(ctx); err != nil {
				w.logger.Error("scheduled aggregation failed", "err", err)
			}
			cancel()
		}
	}
}

// nextRun returns the next occurrence of the configured UTC wall-clock time
// strictly after now.
func (w *Worker) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), w.hour, w.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Close stops the schedule and waits for any in-flight run to finish.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
	return nil
}
