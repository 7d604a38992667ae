package warmer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/logging"
)

// Worker runs the warmer once at startup and then on a fixed interval
// (default 15 minutes). One instance per process.
type Worker struct {
	warmer    *Warmer
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWorker starts the schedule, including the initial warm pass.
func NewWorker(warmer *Warmer, cfg config.WarmerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	w := &Worker{
		warmer:   warmer,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.doneCh)
	w.warmOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.warmOnce()
		}
	}
}

func (w *Worker) warmOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := w.warmer.Warm(ctx); err != nil {
		w.logger.Error("cache warm pass failed", "err", err)
	}
}

// Close stops the schedule and waits for any in-flight pass to finish.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
	return nil
}
