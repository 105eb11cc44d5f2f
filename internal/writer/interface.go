package writer

import (
	"context"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

// InsertResult is the outcome of one batch insert.
type InsertResult struct {
	Inserted   []*domain.SecurityEvent // rows actually persisted this flush
	Duplicates int                     // candidates dropped inside the dedup window
	Failed     int                     // individual rows that failed and were skipped
}

// Sink persists event batches. One call is one atomic unit: the dedup
// check-then-insert for the whole batch runs in a single transaction so
// concurrent flush cycles cannot both insert the same duplicate. Individual
// failing rows are skipped, not fatal to the batch.
type Sink interface {
	InsertEventsSkippingDuplicates(ctx context.Context, candidates []*domain.EventCandidate) (InsertResult, error)

	// FindConflict reports whether an event with the same identity exists
	// within ± window of ts.
	FindConflict(ctx context.Context, vmID int64, source domain.LogKind, message string, ts time.Time, window time.Duration) (bool, error)
}

// Notifier receives newly persisted events after a successful flush.
// The broadcast hub is the sole subscriber.
type Notifier interface {
	EventsInserted(events []*domain.SecurityEvent)
	FlushCompleted(summary domain.FlushSummary)
}

// BatchConfig configures batching behavior.
type BatchConfig struct {
	MaxSize       int           // flush when this many candidates buffer
	FlushInterval time.Duration // flush at least this often
	DedupWindow   time.Duration // ± window for duplicate suppression
}
