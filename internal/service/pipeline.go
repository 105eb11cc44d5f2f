package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/api"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/config"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/hub"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/identity"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/ingest"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/poller"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/position"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/remote"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/rules"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/scheduler"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/storage"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/writer"
)

// Pipeline owns every component and their lifecycle. Construction wires
// them together; Run starts them and tears them down in dependency order
// when the context is cancelled.
type Pipeline struct {
	cfg *config.Config

	store     *storage.PostgresStore
	positions *position.BoltDBStore
	reader    remote.Reader

	hub       *hub.Hub
	batch     *writer.Writer
	scheduler *scheduler.Scheduler
	health    *poller.Poller
	httpSrv   *http.Server
}

// New wires the pipeline. It fails only when a hard dependency is
// unavailable: the database, the positions file, or — after probing both
// transports — the log root.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	fleet, err := config.LoadFleet(cfg.FleetConfigPath)
	if err != nil {
		// Without fleet config only the local transport is possible and
		// host health polling covers nothing.
		log.Warn().Err(err).Str("path", cfg.FleetConfigPath).Msg("Fleet config unavailable, local transport only")
		fleet = &config.Fleet{}
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL, cfg.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	positions, err := position.NewBoltDBStore(cfg.PositionsDBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("position store: %w", err)
	}

	reader, err := remote.Probe(ctx, cfg.LogRoot, fleet)
	if err != nil {
		positions.Close()
		store.Close()
		return nil, fmt.Errorf("no transport resolves log root %s: %w", cfg.LogRoot, err)
	}
	log.Info().Str("transport", reader.Name()).Str("log_root", cfg.LogRoot).Msg("Log transport selected")

	h := hub.New(hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ClientTimeout:     cfg.ClientTimeout,
	})

	batch := writer.New(store, h, writer.BatchConfig{
		MaxSize:       cfg.BatchMaxSize,
		FlushInterval: cfg.FlushInterval,
		DedupWindow:   cfg.DedupWindow,
	})

	resolver := identity.NewResolver(store, cfg.ResolverCacheTTL)
	coordinator := ingest.New(reader, positions, resolver, rules.NewEngine(), batch, cfg.MaxLineBytes)

	discover := func(ctx context.Context) ([]domain.LogSource, error) {
		return ingest.DiscoverSources(ctx, reader, cfg.LogRoot, fleet.LogHost)
	}
	sched := scheduler.New(scheduler.Config{
		MinInterval:    cfg.PollMinInterval,
		MaxInterval:    cfg.PollMaxInterval,
		Backoff:        cfg.PollBackoff,
		EmptyThreshold: cfg.EmptyThreshold,
		Concurrency:    cfg.PollConcurrency,
	}, discover, coordinator.PollSource)

	health := poller.New(reader, fleet, store, h, cfg.HostPollInterval, cfg.PollConcurrency)

	apiSrv := api.NewServer(h, store, store.Ping)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Pipeline{
		cfg:       cfg,
		store:     store,
		positions: positions,
		reader:    reader,
		hub:       h,
		batch:     batch,
		scheduler: sched,
		health:    health,
		httpSrv:   httpSrv,
	}, nil
}

// Run blocks until ctx is cancelled, then shuts down in order: stop
// producing (scheduler, health poller), drain the writer so buffered
// candidates are persisted and broadcast, stop the hub so streaming
// handlers unblock, stop the HTTP surface, close the stores.
func (p *Pipeline) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	writerCtx, stopWriter := context.WithCancel(context.Background())
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopHub()
	defer stopWriter()
	defer stopPolling()

	var hubWG, pollWG sync.WaitGroup
	run := func(wg *sync.WaitGroup, name string, fn func(context.Context) error, c context.Context) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(c); err != nil && err != context.Canceled {
				log.Error().Err(err).Str("component", name).Msg("Component stopped")
			}
		}()
	}

	run(&hubWG, "hub", p.hub.Run, hubCtx)
	run(&pollWG, "scheduler", p.scheduler.Run, pollCtx)
	run(&pollWG, "health-poller", p.health.Run, pollCtx)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := p.batch.Run(writerCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Writer stopped")
		}
	}()

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		log.Info().Str("addr", p.cfg.HTTPAddr).Msg("HTTP server listening")
		if err := p.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Stop producing first, then drain the writer; the drain still needs
	// the hub and the store.
	stopPolling()
	pollWG.Wait()
	stopWriter()
	<-writerDone

	// Stopping the hub closes every client's frame channel, which is what
	// lets in-flight SSE handlers return; only then can the HTTP shutdown
	// complete without waiting out its deadline.
	stopHub()
	hubWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	<-httpDone

	if err := p.reader.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close log transport")
	}
	if err := p.positions.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close position store")
	}
	if err := p.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close event store")
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
