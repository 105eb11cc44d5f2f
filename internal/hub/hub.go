package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/metrics"
)

// clientBuffer is the per-client frame queue depth. A client that falls
// this far behind is evicted rather than allowed to stall the hub.
const clientBuffer = 64

// Filter selects which security events a client receives. Empty slices
// mean "no restriction" for that dimension; all populated dimensions must
// match. Non-event frames (heartbeats, fleet snapshots) bypass filtering.
type Filter struct {
	Severities []domain.Severity
	Types      []domain.EventType
	VMIDs      []int64
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev *domain.SecurityEvent) bool {
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, ev.Severity) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
		return false
	}
	if len(f.VMIDs) > 0 && !containsID(f.VMIDs, ev.VMID) {
		return false
	}
	return true
}

func containsSeverity(s []domain.Severity, v domain.Severity) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsType(s []domain.EventType, v domain.EventType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsID(s []int64, v int64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Client is one subscribed SSE connection. Frames arrive on Frames in
// publish order; the channel closes when the client is evicted.
type Client struct {
	ID     string
	filter Filter
	frames chan []byte
	joined time.Time
}

// Frames is the client's ordered frame stream.
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// Config configures the broadcast hub.
type Config struct {
	HeartbeatInterval time.Duration // keep-alive cadence, also refreshes liveness
	ClientTimeout     time.Duration // evict clients with no delivered frame for this long
}

// Hub fans persisted events and fleet snapshots out to SSE clients. Sends
// never block: a client whose buffer is full is evicted on the spot, so one
// slow consumer cannot hold back the rest.
type Hub struct {
	cfg Config

	register   chan *Client
	unregister chan string
	frames     chan frame
	done       chan struct{} // closed when Run exits

	// clients is owned by the Run goroutine; no lock needed.
	clients  map[string]*Client
	lastSent map[string]time.Time
}

type frame struct {
	data []byte
	// event is set only for security-event frames, which are filtered
	// per client.
	event *domain.SecurityEvent
}

// New creates a hub. Run must be started for subscriptions to take effect.
func New(cfg Config) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 5 * time.Minute
	}
	return &Hub{
		cfg:        cfg,
		register:   make(chan *Client),
		unregister: make(chan string),
		frames:     make(chan frame, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		lastSent:   make(map[string]time.Time),
	}
}

// Subscribe registers a new client with the given filter. After the hub
// has stopped the client comes back with its frame channel already closed,
// so callers observe an immediate end of stream instead of blocking.
func (h *Hub) Subscribe(f Filter) *Client {
	c := &Client{
		ID:     uuid.New().String(),
		filter: f,
		frames: make(chan []byte, clientBuffer),
		joined: time.Now(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		close(c.frames)
	}
	return c
}

// Unsubscribe removes a client, closing its frame channel. Safe to call
// for an already-evicted client and after the hub has stopped.
func (h *Hub) Unsubscribe(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// EventsInserted publishes one security-event frame per persisted event.
// Implements the writer's notifier.
func (h *Hub) EventsInserted(events []*domain.SecurityEvent) {
	for _, ev := range events {
		data, err := encodeFrame(EventSecurityEvent, ev)
		if err != nil {
			log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to encode event frame")
			continue
		}
		h.offer(frame{data: data, event: ev})
	}
}

// FlushCompleted publishes a batch summary so clients can refresh
// aggregate views without re-fetching every event.
func (h *Hub) FlushCompleted(summary domain.FlushSummary) {
	h.publish(EventSecurityUpdate, summary)
}

// PublishHosts pushes a full host snapshot.
func (h *Hub) PublishHosts(hosts []domain.HostStatus) {
	h.publish(EventHostsUpdate, hosts)
}

// PublishHost pushes a single host change.
func (h *Hub) PublishHost(host domain.HostStatus) {
	h.publish(EventHostUpdate, host)
}

// PublishVMs pushes a full VM snapshot.
func (h *Hub) PublishVMs(vms []domain.VMRecord) {
	h.publish(EventVMsUpdate, vms)
}

// PublishVM pushes a single VM change.
func (h *Hub) PublishVM(vm domain.VMRecord) {
	h.publish(EventVMUpdate, vm)
}

func (h *Hub) publish(event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}
	h.offer(frame{data: data})
}

// offer enqueues a frame without blocking publishers. The queue only fills
// when the run loop is stopped or badly stalled; losing a live push there
// is preferable to wedging the writer's flush path.
func (h *Hub) offer(fr frame) {
	select {
	case h.frames <- fr:
	default:
		log.Warn().Msg("Broadcast queue full, dropping frame")
	}
}

// Run drives registration, fan-out, heartbeats and timeout eviction until
// the context is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			for id := range h.clients {
				h.drop(id, "shutdown")
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c.ID] = c
			h.lastSent[c.ID] = time.Now()
			metrics.ConnectedClients.Set(float64(len(h.clients)))
			log.Debug().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("Client subscribed")

		case id := <-h.unregister:
			h.drop(id, "unsubscribed")

		case fr := <-h.frames:
			for id, c := range h.clients {
				if fr.event != nil && !c.filter.Matches(fr.event) {
					continue
				}
				h.send(id, c, fr.data)
			}

		case <-heartbeat.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	data, err := encodeFrame(EventHeartbeat, map[string]int64{"ts": time.Now().Unix()})
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-h.cfg.ClientTimeout)
	for id, c := range h.clients {
		if h.lastSent[id].Before(cutoff) {
			h.drop(id, "timeout")
			metrics.ClientsEvicted.WithLabelValues("timeout").Inc()
			continue
		}
		h.send(id, c, data)
	}
}

// send delivers without blocking; a full buffer means the client is gone.
func (h *Hub) send(id string, c *Client, data []byte) {
	select {
	case c.frames <- data:
		h.lastSent[id] = time.Now()
	default:
		h.drop(id, "slow_consumer")
		metrics.ClientsEvicted.WithLabelValues("slow_consumer").Inc()
	}
}

func (h *Hub) drop(id, reason string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	delete(h.lastSent, id)
	close(c.frames)
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	log.Debug().
		Str("client_id", id).
		Str("reason", reason).
		Dur("connected_for", time.Since(c.joined)).
		Msg("Client dropped")
}
