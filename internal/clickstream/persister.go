package clickstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/counters"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/model"
	"github.com/shortlinklabs/redirect-core/internal/store"
)

// Persister is the single background consumer of the click buffer. It drains
// events in batches, classifies uniqueness through the real-time counters,
// batch-inserts the events into the durable store, and folds the batch into
// the entries' durable click counts. Persistence failures are logged and the
// batch is dropped; analytics are best-effort and never push back on the
// redirect path.
type Persister struct {
	buffer        *Buffer
	store         store.DurableStore
	counters      *counters.Realtime
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

// NewPersister wires the persister and starts its drain loop.
func NewPersister(buffer *Buffer, st store.DurableStore, rt *counters.Realtime, cfg config.ClicksConfig, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval.Duration
	if flushInterval <= 0 {
		flushInterval = 250 * time.Millisecond
	}
	p := &Persister{
		buffer:        buffer,
		store:         st,
		counters:      rt,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Persister) loop() {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	batch := make([]model.ClickEvent, 0, p.batchSize)
	for {
		select {
		case event, ok := <-p.buffer.ch:
			if !ok {
				p.flush(batch)
				close(p.done)
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (p *Persister) flush(batch []model.ClickEvent) {
	if len(batch) == 0 {
		return
	}

	// Uniqueness is classified once here, before the rows become permanent.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	batch = p.counters.Apply(ctx, batch)
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.InsertClickEvents(ctx, batch); err != nil {
		metrics.RecordPersistFailure()
		p.logger.Error("click batch insert failed, dropping batch", "events", len(batch), "err", err)
		return
	}
	metrics.RecordClicksPersisted(len(batch))

	deltas := make(map[int64]int64, len(batch))
	for _, e := range batch {
		deltas[e.EntryID]++
	}
	if err := p.store.IncrementClickCounts(ctx, deltas); err != nil {
		p.logger.Warn("click count increment failed", "entries", len(deltas), "err", err)
	}
}

// Close performs the final drain-and-flush and waits for the loop to exit.
// The buffer stops accepting events first, so no click is half-tracked.
func (p *Persister) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		p.buffer.Close()
	})
	<-p.done
	return nil
}
