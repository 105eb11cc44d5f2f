package position

import (
	"context"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

// Store persists per-source file read positions so that ingestion resumes
// where it left off across restarts.
//
// Get returns (nil, nil) for a source that has never been read; the
// coordinator treats that as offset 0. Set has durable overwrite semantics
// and is idempotent. A failed Set is never fatal: the coordinator re-reads
// the same range next cycle and the dedup window absorbs the duplicates.
type Store interface {
	Get(ctx context.Context, sourceKey string) (*domain.FilePosition, error)
	Set(ctx context.Context, pos *domain.FilePosition) error
	Delete(ctx context.Context, sourceKey string) error
	List(ctx context.Context) (map[string]*domain.FilePosition, error)
	Close() error
}
