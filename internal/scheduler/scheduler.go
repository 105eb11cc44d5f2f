package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/metrics"
)

// Config configures per-source adaptive polling.
type Config struct {
	MinInterval       time.Duration // floor, also the interval for active sources
	MaxInterval       time.Duration // ceiling for idle sources
	Backoff           float64       // interval multiplier after sustained quiet
	EmptyThreshold    int           // quiet polls before the interval grows
	Concurrency       int           // max simultaneous polls
	DiscoveryInterval time.Duration // how often the source list is refreshed
}

func (c *Config) applyDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 300 * time.Second
	}
	if c.Backoff <= 1 {
		c.Backoff = 2.0
	}
	if c.EmptyThreshold <= 0 {
		c.EmptyThreshold = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = time.Minute
	}
}

// AdaptiveInterval grows a per-source poll interval while the source is
// quiet and snaps back to the floor the moment it produces something.
type AdaptiveInterval struct {
	min, max    time.Duration
	backoff     float64
	threshold   int
	current     time.Duration
	emptyStreak int
}

// NewAdaptiveInterval starts at the floor.
func NewAdaptiveInterval(cfg Config) *AdaptiveInterval {
	cfg.applyDefaults()
	return &AdaptiveInterval{
		min:       cfg.MinInterval,
		max:       cfg.MaxInterval,
		backoff:   cfg.Backoff,
		threshold: cfg.EmptyThreshold,
		current:   cfg.MinInterval,
	}
}

// Observe records one poll outcome. Activity resets to the floor; a streak
// of quiet polls reaching the threshold multiplies the interval, clamped to
// the ceiling.
func (a *AdaptiveInterval) Observe(activity bool) {
	if activity {
		a.current = a.min
		a.emptyStreak = 0
		return
	}
	a.emptyStreak++
	if a.emptyStreak < a.threshold {
		return
	}
	a.emptyStreak = 0
	next := time.Duration(float64(a.current) * a.backoff)
	if next > a.max {
		next = a.max
	}
	a.current = next
}

// Current returns the interval to wait before the next poll.
func (a *AdaptiveInterval) Current() time.Duration {
	return a.current
}

// PollFunc polls one source, reporting whether it produced anything.
type PollFunc func(ctx context.Context, src domain.LogSource) (bool, error)

// DiscoverFunc enumerates the sources that currently exist.
type DiscoverFunc func(ctx context.Context) ([]domain.LogSource, error)

type sourceState struct {
	src      domain.LogSource
	interval *AdaptiveInterval
	nextRun  time.Time
	running  bool
}

// Scheduler drives polling across the fleet: it refreshes the source list,
// runs due polls through a bounded worker pool, and widens the interval of
// sources that stay quiet so an idle fleet costs little.
type Scheduler struct {
	cfg      Config
	discover DiscoverFunc
	poll     PollFunc

	mu     sync.Mutex
	states map[string]*sourceState
}

// New creates a scheduler over the given discovery and poll functions.
func New(cfg Config, discover DiscoverFunc, poll PollFunc) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:      cfg,
		discover: discover,
		poll:     poll,
		states:   make(map[string]*sourceState),
	}
}

// Run polls until the context is cancelled. In-flight polls finish before
// it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.refreshSources(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial source discovery failed, retrying on schedule")
	}

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	rediscover := time.NewTicker(s.cfg.DiscoveryInterval)
	defer rediscover.Stop()

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-rediscover.C:
			if err := s.refreshSources(ctx); err != nil {
				log.Warn().Err(err).Msg("Source discovery failed")
			}
		case <-tick.C:
			for _, st := range s.dueSources() {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					wg.Wait()
					return ctx.Err()
				}
				wg.Add(1)
				go func(st *sourceState) {
					defer wg.Done()
					defer func() { <-sem }()
					s.runPoll(ctx, st)
				}(st)
			}
		}
	}
}

// refreshSources reconciles the state map with what discovery reports:
// new sources start at the floor interval, vanished sources are forgotten.
func (s *Scheduler) refreshSources(ctx context.Context) error {
	sources, err := s.discover(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		key := src.Key()
		seen[key] = true
		if _, ok := s.states[key]; ok {
			continue
		}
		s.states[key] = &sourceState{
			src:      src,
			interval: NewAdaptiveInterval(s.cfg),
			nextRun:  time.Now(),
		}
		log.Debug().Str("source", key).Msg("Tracking new source")
	}
	for key, st := range s.states {
		if !seen[key] && !st.running {
			delete(s.states, key)
			log.Debug().Str("source", key).Msg("Source gone, dropped")
		}
	}
	return nil
}

func (s *Scheduler) dueSources() []*sourceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []*sourceState
	for _, st := range s.states {
		if st.running || st.nextRun.After(now) {
			continue
		}
		st.running = true
		due = append(due, st)
	}
	return due
}

func (s *Scheduler) runPoll(ctx context.Context, st *sourceState) {
	activity, err := s.poll(ctx, st.src)

	s.mu.Lock()
	defer s.mu.Unlock()

	st.running = false
	switch {
	case err != nil:
		metrics.PollCycles.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("source", st.src.Key()).Msg("Poll failed")
		st.interval.Observe(false)
	case activity:
		metrics.PollCycles.WithLabelValues("activity").Inc()
		st.interval.Observe(true)
	default:
		metrics.PollCycles.WithLabelValues("empty").Inc()
		st.interval.Observe(false)
	}
	st.nextRun = time.Now().Add(st.interval.Current())
}

// SourceCount reports how many sources are currently tracked.
func (s *Scheduler) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
