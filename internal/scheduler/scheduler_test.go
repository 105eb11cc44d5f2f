package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

func TestAdaptiveIntervalGrowth(t *testing.T) {
	a := NewAdaptiveInterval(Config{
		MinInterval:    5 * time.Second,
		MaxInterval:    300 * time.Second,
		Backoff:        2.0,
		EmptyThreshold: 3,
	})

	if a.Current() != 5*time.Second {
		t.Fatalf("Expected floor interval initially, got %v", a.Current())
	}

	// Two quiet polls are below the threshold.
	a.Observe(false)
	a.Observe(false)
	if a.Current() != 5*time.Second {
		t.Errorf("Interval grew before threshold: %v", a.Current())
	}

	// Third quiet poll doubles it.
	a.Observe(false)
	if a.Current() != 10*time.Second {
		t.Errorf("Expected 10s after threshold, got %v", a.Current())
	}

	// Each further threshold-run doubles again, clamped to the ceiling.
	for i := 0; i < 30; i++ {
		a.Observe(false)
	}
	if a.Current() != 300*time.Second {
		t.Errorf("Expected interval clamped to 300s, got %v", a.Current())
	}
}

func TestAdaptiveIntervalResetOnActivity(t *testing.T) {
	a := NewAdaptiveInterval(Config{
		MinInterval:    5 * time.Second,
		MaxInterval:    300 * time.Second,
		Backoff:        2.0,
		EmptyThreshold: 3,
	})

	for i := 0; i < 9; i++ {
		a.Observe(false)
	}
	if a.Current() <= 5*time.Second {
		t.Fatalf("Setup failed, interval did not grow: %v", a.Current())
	}

	a.Observe(true)
	if a.Current() != 5*time.Second {
		t.Errorf("Expected reset to floor on activity, got %v", a.Current())
	}

	// Streak restarts from zero after activity.
	a.Observe(false)
	a.Observe(false)
	if a.Current() != 5*time.Second {
		t.Errorf("Interval grew too early after reset: %v", a.Current())
	}
}

func TestSchedulerBoundedConcurrency(t *testing.T) {
	sources := make([]domain.LogSource, 20)
	for i := range sources {
		sources[i] = domain.LogSource{
			VMName: "u2-vm3000" + string(rune('a'+i)),
			Host:   "host1",
			Kind:   domain.LogKindAuth,
			Path:   "/mnt/vm-security/vm/auth.log",
		}
	}
	discover := func(ctx context.Context) ([]domain.LogSource, error) {
		return sources, nil
	}

	var inFlight, peak int64
	poll := func(ctx context.Context, src domain.LogSource) (bool, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return false, nil
	}

	s := New(Config{MinInterval: time.Hour, Concurrency: 5}, discover, poll)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// Wait past the first tick so the initial sweep dispatches.
	time.Sleep(1500 * time.Millisecond)
	cancel()
	<-done

	if got := atomic.LoadInt64(&peak); got > 5 {
		t.Errorf("Expected at most 5 concurrent polls, observed %d", got)
	}
	if got := atomic.LoadInt64(&peak); got == 0 {
		t.Error("No polls ran")
	}
}

func TestRefreshSourcesReconciles(t *testing.T) {
	var mu sync.Mutex
	current := []domain.LogSource{
		{VMName: "u2-vm30000", Host: "host1", Kind: domain.LogKindAuth},
		{VMName: "u2-vm30001", Host: "host1", Kind: domain.LogKindAuth},
	}
	discover := func(ctx context.Context) ([]domain.LogSource, error) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.LogSource, len(current))
		copy(out, current)
		return out, nil
	}
	poll := func(ctx context.Context, src domain.LogSource) (bool, error) { return false, nil }

	s := New(Config{MinInterval: time.Hour}, discover, poll)
	if err := s.refreshSources(context.Background()); err != nil {
		t.Fatalf("refreshSources failed: %v", err)
	}
	if s.SourceCount() != 2 {
		t.Fatalf("Expected 2 tracked sources, got %d", s.SourceCount())
	}

	mu.Lock()
	current = current[:1]
	mu.Unlock()
	if err := s.refreshSources(context.Background()); err != nil {
		t.Fatalf("refreshSources failed: %v", err)
	}
	if s.SourceCount() != 1 {
		t.Errorf("Expected vanished source dropped, got %d tracked", s.SourceCount())
	}
}
