package storage

import (
	"context"
	"sync"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/writer"
)

// MemorySink keeps events in memory with the same dedup semantics as the
// database sink. Used in tests and for dry runs without a database.
type MemorySink struct {
	mu     sync.Mutex
	window time.Duration
	nextID int64
	events []*domain.SecurityEvent
}

// NewMemorySink creates an empty in-memory sink with the given dedup window.
func NewMemorySink(window time.Duration) *MemorySink {
	return &MemorySink{window: window, nextID: 1}
}

// InsertEventsSkippingDuplicates mirrors the transactional batch insert:
// each candidate is checked against everything already stored, including
// earlier candidates of the same batch.
func (m *MemorySink) InsertEventsSkippingDuplicates(_ context.Context, candidates []*domain.EventCandidate) (writer.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result writer.InsertResult
	for _, c := range candidates {
		if m.conflictLocked(c.VMID, c.Source, c.RawMessage, c.Timestamp) {
			result.Duplicates++
			continue
		}
		ev := &domain.SecurityEvent{
			ID:        m.nextID,
			VMID:      c.VMID,
			Timestamp: c.Timestamp,
			Source:    c.Source,
			Message:   c.RawMessage,
			Severity:  c.Severity,
			Type:      c.Type,
			Metadata:  c.Metadata,
			CreatedAt: time.Now(),
		}
		m.nextID++
		m.events = append(m.events, ev)
		result.Inserted = append(result.Inserted, ev)
	}
	return result, nil
}

// FindConflict reports whether an identical event exists within ± window.
func (m *MemorySink) FindConflict(_ context.Context, vmID int64, source domain.LogKind, message string, ts time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.events {
		if ev.VMID == vmID && ev.Source == source && ev.Message == message &&
			!ev.Timestamp.Before(ts.Add(-window)) && !ev.Timestamp.After(ts.Add(window)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemorySink) conflictLocked(vmID int64, source domain.LogKind, message string, ts time.Time) bool {
	for _, ev := range m.events {
		if ev.VMID == vmID && ev.Source == source && ev.Message == message &&
			!ev.Timestamp.Before(ts.Add(-m.window)) && !ev.Timestamp.After(ts.Add(m.window)) {
			return true
		}
	}
	return false
}

// Events returns a snapshot of everything stored.
func (m *MemorySink) Events() []*domain.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}
