package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/metrics"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/observability"
)

// rebufferLimit bounds how many candidates survive a failed flush. Beyond
// this the oldest are dropped; a re-read of the same log range will
// regenerate them once the sink recovers.
const rebufferFactor = 10

// Writer buffers event candidates and flushes them through the sink in
// deduplicated batches. Flush happens when the buffer reaches MaxSize or
// when FlushInterval elapses, whichever comes first.
type Writer struct {
	cfg      BatchConfig
	sink     Sink
	notifier Notifier

	mu        sync.Mutex
	buffer    []*domain.EventCandidate
	lastFlush time.Time

	tracer trace.Tracer
	stopCh chan struct{}
}

// New creates a batch writer.
func New(sink Sink, notifier Notifier, cfg BatchConfig) *Writer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	return &Writer{
		cfg:       cfg,
		sink:      sink,
		notifier:  notifier,
		buffer:    make([]*domain.EventCandidate, 0, cfg.MaxSize),
		lastFlush: time.Now(),
		tracer:    observability.Tracer(),
		stopCh:    make(chan struct{}),
	}
}

// Enqueue adds a candidate to the buffer, flushing when the batch is full.
func (w *Writer) Enqueue(ctx context.Context, c *domain.EventCandidate) error {
	w.mu.Lock()
	// Copy so the coordinator can reuse its candidate.
	candCopy := *c
	w.buffer = append(w.buffer, &candCopy)
	full := len(w.buffer) >= w.cfg.MaxSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Run drives the interval flush until the context is cancelled, then
// performs a final drain so pending candidates are not lost on shutdown.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := w.Flush(drainCtx); err != nil {
				log.Error().Err(err).Msg("Final drain flush failed")
			}
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("Interval flush failed")
			}
		}
	}
}

// Stop terminates the flush loop without draining. Prefer cancelling the
// Run context, which drains.
func (w *Writer) Stop() {
	close(w.stopCh)
}

// Flush persists the buffered candidates as one atomic batch. On total
// failure the snapshot is re-buffered (bounded) and retried on the next
// flush; duplicates produced by the retry are absorbed by the sink's
// dedup window.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.lastFlush = time.Now()
		w.mu.Unlock()
		return nil
	}
	snapshot := w.buffer
	w.buffer = make([]*domain.EventCandidate, 0, w.cfg.MaxSize)
	w.lastFlush = time.Now()
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "writer.flush",
		trace.WithAttributes(attribute.Int("batch.size", len(snapshot))))
	defer span.End()

	result, err := w.sink.InsertEventsSkippingDuplicates(ctx, snapshot)
	if err != nil {
		metrics.FlushFailures.Inc()
		w.rebuffer(snapshot)
		return fmt.Errorf("batch insert failed: %w", err)
	}

	bySeverity := make(map[string]int)
	for _, ev := range result.Inserted {
		bySeverity[string(ev.Severity)]++
		metrics.EventsInserted.WithLabelValues(string(ev.Severity)).Inc()
	}
	metrics.DuplicatesDropped.Add(float64(result.Duplicates))

	log.Debug().
		Int("batch", len(snapshot)).
		Int("inserted", len(result.Inserted)).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Msg("Flush complete")

	if w.notifier != nil {
		if len(result.Inserted) > 0 {
			w.notifier.EventsInserted(result.Inserted)
		}
		w.notifier.FlushCompleted(domain.FlushSummary{
			Inserted:   len(result.Inserted),
			Duplicates: result.Duplicates,
			Failed:     result.Failed,
			BySeverity: bySeverity,
			FlushedAt:  time.Now(),
		})
	}

	return nil
}

// rebuffer puts a failed snapshot back in front of newer candidates,
// dropping the oldest entries past the bound.
func (w *Writer) rebuffer(snapshot []*domain.EventCandidate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	combined := append(snapshot, w.buffer...)
	limit := w.cfg.MaxSize * rebufferFactor
	if len(combined) > limit {
		dropped := len(combined) - limit
		combined = combined[dropped:]
		log.Warn().
			Int("dropped", dropped).
			Msg("Re-buffer limit reached, oldest candidates discarded")
	}
	w.buffer = combined
}

// Pending returns the number of buffered candidates.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
