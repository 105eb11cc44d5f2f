package poller

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/config"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/metrics"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/remote"
)

// probeScript gathers everything in one round trip. Output is one KEY=value
// per line; parseProbe tolerates missing or malformed lines.
const probeScript = `echo "OS=$(. /etc/os-release 2>/dev/null && echo "$PRETTY_NAME")"
echo "UPTIME=$(cut -d. -f1 /proc/uptime)"
echo "CPU=$(top -bn1 | grep '%Cpu' | awk '{print 100-$8}')"
echo "RAM=$(free | awk '/Mem:/ {printf "%.1f", $3/$2*100}')"
echo "DISK=$(df -P / | awk 'NR==2 {gsub("%","",$5); print $5}')"`

// TelemetryStore persists host health and its VM cascade.
type TelemetryStore interface {
	UpsertHostStatus(ctx context.Context, hs *domain.HostStatus) error
	MarkHostDown(ctx context.Context, name string) error
	MarkVMsOnline(ctx context.Context, hostName string) error
}

// Broadcaster pushes fleet snapshots to dashboard clients.
type Broadcaster interface {
	PublishHosts(hosts []domain.HostStatus)
	PublishHost(host domain.HostStatus)
}

// Poller probes every fleet host on a fixed cadence. A host that fails its
// probe is marked down and all its VMs cascade to offline; both recover on
// the next successful probe.
type Poller struct {
	reader      remote.Reader
	fleet       *config.Fleet
	store       TelemetryStore
	hub         Broadcaster
	interval    time.Duration
	concurrency int
}

// New creates a health poller.
func New(reader remote.Reader, fleet *config.Fleet, store TelemetryStore, hub Broadcaster, interval time.Duration, concurrency int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Poller{
		reader:      reader,
		fleet:       fleet,
		store:       store,
		hub:         hub,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run polls immediately, then on every interval until the context is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	hosts := p.fleet.HostNames()
	if len(hosts) == 0 {
		return
	}

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := make([]domain.HostStatus, 0, len(hosts))
	down := 0

	for _, name := range hosts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			hs := p.pollHost(ctx, name)
			mu.Lock()
			statuses = append(statuses, hs)
			if hs.Down {
				down++
			}
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	metrics.HostsDown.Set(float64(down))
	p.hub.PublishHosts(statuses)
}

func (p *Poller) pollHost(ctx context.Context, name string) domain.HostStatus {
	addr := p.fleet.AddrFor(name)
	out, err := p.reader.Run(ctx, addr, probeScript)
	if err != nil {
		log.Warn().Err(err).Str("host", name).Msg("Host probe failed")
		hs := domain.HostStatus{Name: name, Down: true, PolledAt: time.Now()}
		if dbErr := p.store.MarkHostDown(ctx, name); dbErr != nil {
			log.Error().Err(dbErr).Str("host", name).Msg("Failed to record host down")
		}
		p.hub.PublishHost(hs)
		return hs
	}

	hs := parseProbe(out)
	hs.Name = name
	hs.SSH = true
	hs.PolledAt = time.Now()

	if err := p.store.UpsertHostStatus(ctx, &hs); err != nil {
		log.Error().Err(err).Str("host", name).Msg("Failed to record host status")
	} else if err := p.store.MarkVMsOnline(ctx, name); err != nil {
		log.Error().Err(err).Str("host", name).Msg("Failed to restore vm status")
	}
	p.hub.PublishHost(hs)
	return hs
}

// parseProbe reads the KEY=value probe output. Missing keys leave their
// zero value; a partially broken probe still yields a usable sample.
func parseProbe(out []byte) domain.HostStatus {
	var hs domain.HostStatus
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "OS":
			hs.OS = value
		case "UPTIME":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				hs.Uptime = v
			}
		case "CPU":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				hs.CPU = v
			}
		case "RAM":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				hs.RAM = v
			}
		case "DISK":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				hs.Disk = v
			}
		}
	}
	return hs
}
