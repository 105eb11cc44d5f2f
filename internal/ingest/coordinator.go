package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/identity"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/metrics"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/observability"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/position"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/remote"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/rules"
)

// Enqueuer receives classified candidates. Implemented by the batch writer.
type Enqueuer interface {
	Enqueue(ctx context.Context, c *domain.EventCandidate) error
}

// Coordinator drives one read-classify-enqueue cycle per source per
// scheduler tick. Offsets advance monotonically within a source; rotation
// resets them to zero; a failure before classification completes never
// advances the stored offset.
type Coordinator struct {
	reader    remote.Reader
	positions position.Store
	resolver  *identity.Resolver
	engine    *rules.Engine
	sink      Enqueuer

	maxLineBytes int
	now          func() time.Time
	tracer       trace.Tracer

	mu       sync.Mutex
	partials map[string][]byte // retained tail fragment per source key
}

// New creates an ingest coordinator.
func New(reader remote.Reader, positions position.Store, resolver *identity.Resolver, engine *rules.Engine, sink Enqueuer, maxLineBytes int) *Coordinator {
	if maxLineBytes <= 0 {
		maxLineBytes = 1024 * 1024
	}
	return &Coordinator{
		reader:       reader,
		positions:    positions,
		resolver:     resolver,
		engine:       engine,
		sink:         sink,
		maxLineBytes: maxLineBytes,
		now:          time.Now,
		tracer:       observability.Tracer(),
		partials:     make(map[string][]byte),
	}
}

// PollSource runs one cycle for a source. Returns true when new bytes were
// consumed, which the scheduler uses to reset its backoff.
func (c *Coordinator) PollSource(ctx context.Context, src domain.LogSource) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "ingest.poll_source",
		trace.WithAttributes(
			attribute.String("source.key", src.Key()),
			attribute.String("source.kind", string(src.Kind)),
		))
	defer span.End()

	st, err := c.reader.Stat(ctx, src.Path)
	if err != nil {
		return false, fmt.Errorf("stat failed for %s: %w", src.Path, err)
	}
	if !st.Exists {
		return false, nil
	}

	pos, err := c.positions.Get(ctx, src.Key())
	if err != nil {
		log.Warn().Err(err).Str("source", src.Key()).Msg("Position lookup failed, treating source as never read")
		pos = nil
	}

	offset := int64(0)
	if pos != nil {
		offset = pos.Offset

		// Rotation: a new inode, or a file shorter than what we already
		// consumed, means the file was replaced. Restart from zero and
		// forget any retained fragment of the old file.
		if pos.Inode != st.Inode || st.Size < pos.Offset {
			log.Info().
				Str("source", src.Key()).
				Uint64("old_inode", pos.Inode).
				Uint64("new_inode", st.Inode).
				Int64("old_offset", pos.Offset).
				Int64("size", st.Size).
				Msg("Log rotation detected, resetting offset")
			offset = 0
			c.dropPartial(src.Key())
		} else if pos.Offset == st.Size && !st.ModTime.After(pos.ModTime) {
			// Unchanged since the last successful read: empty poll.
			return false, nil
		}
	}

	data, err := c.reader.ReadFrom(ctx, src.Path, offset)
	if err != nil {
		return false, fmt.Errorf("read failed for %s at offset %d: %w", src.Path, offset, err)
	}
	if len(data) == 0 {
		return false, nil
	}

	consumed := int64(len(data))
	if prev := c.takePartial(src.Key()); len(prev) > 0 && offset > 0 {
		data = append(prev, data...)
	}

	lines, partial := splitLines(data)

	if len(partial) > 0 {
		if c.reader.CanSeekBack() {
			// Leave the fragment in the file; the next poll re-reads it.
			consumed -= int64(len(partial))
		} else {
			// Remote tails cannot seek back cheaply; keep the fragment in
			// memory and accept duplication risk after a restart (the dedup
			// window absorbs it).
			c.storePartial(src.Key(), partial)
		}
	}

	if consumed == 0 && len(lines) == 0 {
		// The read was only a still-unterminated fragment left in the
		// file. Nothing advanced, so the poll counts as empty and the
		// scheduler keeps backing off.
		return false, nil
	}

	enqueued := 0
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if len(line) > c.maxLineBytes {
			log.Warn().
				Str("source", src.Key()).
				Int("len", len(line)).
				Msg("Skipping oversized log line")
			continue
		}

		if err := c.processLine(ctx, src, string(line)); err != nil {
			// Enqueue failure: stop before advancing the offset so the
			// unprocessed tail is re-read next cycle.
			return false, fmt.Errorf("enqueue failed for %s: %w", src.Key(), err)
		}
		enqueued++
	}

	newPos := &domain.FilePosition{
		SourceKey: src.Key(),
		Offset:    offset + consumed,
		ModTime:   st.ModTime,
		Inode:     st.Inode,
	}
	if err := c.positions.Set(ctx, newPos); err != nil {
		// Degraded mode: the same range is re-read next cycle and dedup
		// drops the repeats.
		log.Warn().Err(err).Str("source", src.Key()).Msg("Failed to persist position")
	}

	metrics.LinesProcessed.Add(float64(len(lines)))
	span.SetAttributes(
		attribute.Int("lines", len(lines)),
		attribute.Int64("bytes", int64(len(data))),
	)

	log.Debug().
		Str("source", src.Key()).
		Int("lines", len(lines)).
		Int("enqueued", enqueued).
		Int64("offset", newPos.Offset).
		Msg("Source poll complete")

	return consumed > 0, nil
}

// processLine classifies a single complete line and enqueues the candidate.
// Malformed or unmatched lines are skipped; an unresolvable VM drops the
// candidate without blocking other sources.
func (c *Coordinator) processLine(ctx context.Context, src domain.LogSource, line string) error {
	now := c.now()
	ts, vmName, kind, message := lineTimestamp(line, src.VMName, src.Kind, now)

	match := c.engine.Classify(kind, message)
	if match == nil {
		return nil
	}

	vmID, err := c.resolver.Resolve(ctx, vmName)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownVM) {
			log.Debug().
				Str("vm", vmName).
				Str("source", src.Key()).
				Msg("Dropping candidate for unresolved VM")
			return nil
		}
		log.Warn().Err(err).Str("vm", vmName).Msg("Identity resolution failed, dropping candidate")
		return nil
	}

	metrics.CandidatesTotal.WithLabelValues(string(match.Type)).Inc()

	return c.sink.Enqueue(ctx, &domain.EventCandidate{
		VMID:       vmID,
		VMName:     vmName,
		Timestamp:  ts,
		Source:     kind,
		RawMessage: strings.TrimSpace(line),
		Type:       match.Type,
		Severity:   match.Severity,
		Metadata:   match.Metadata,
	})
}

func (c *Coordinator) takePartial(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.partials[key]
	delete(c.partials, key)
	return p
}

func (c *Coordinator) storePartial(key string, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	c.partials[key] = buf
}

func (c *Coordinator) dropPartial(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.partials, key)
}

// splitLines splits data on newlines, returning complete lines and the
// trailing fragment that lacks a terminator.
func splitLines(data []byte) (lines [][]byte, partial []byte) {
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return lines, data
		}
		line := bytes.TrimRight(data[:idx], "\r")
		lines = append(lines, line)
		data = data[idx+1:]
	}
}
