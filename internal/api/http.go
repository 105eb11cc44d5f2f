package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/hub"
)

// EventStore is the slice of the event store the API needs.
type EventStore interface {
	AcknowledgeEvents(ctx context.Context, ids []int64) (int64, error)
}

// ReadyCheck reports whether downstream dependencies are reachable.
type ReadyCheck func(ctx context.Context) error

// Server exposes the live event stream and operational endpoints.
type Server struct {
	router *mux.Router
	hub    *hub.Hub
	store  EventStore
	ready  ReadyCheck
}

// NewServer builds the HTTP surface.
func NewServer(h *hub.Hub, store EventStore, ready ReadyCheck) *Server {
	s := &Server{
		router: mux.NewRouter(),
		hub:    h,
		store:  store,
		ready:  ready,
	}

	s.router.HandleFunc("/api/events/stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/ack", s.handleAck).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// Handler returns the router for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleStream upgrades the request to a server-sent event stream. The
// filter comes from query parameters; each may repeat or hold a
// comma-separated list:
//
//	GET /api/events/stream?severity=critical,high&rules=brute_force&vmIds=3
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.hub.Subscribe(filter)
	defer s.hub.Unsubscribe(client.ID)

	log.Debug().Str("client_id", client.ID).Str("remote", r.RemoteAddr).Msg("Stream opened")

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-client.Frames():
			if !ok {
				// Evicted by the hub.
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "no event ids given", http.StatusBadRequest)
		return
	}

	n, err := s.store.AcknowledgeEvents(r.Context(), req.IDs)
	if err != nil {
		log.Error().Err(err).Msg("Acknowledge failed")
		http.Error(w, "acknowledge failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"acknowledged": n})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// parseFilter builds the subscription filter from query parameters.
func parseFilter(r *http.Request) (hub.Filter, error) {
	var f hub.Filter

	for _, v := range splitParam(r, "severity") {
		sev := domain.Severity(v)
		if !sev.Valid() {
			return hub.Filter{}, badParamError{"severity", v}
		}
		f.Severities = append(f.Severities, sev)
	}
	for _, v := range splitParam(r, "rules") {
		f.Types = append(f.Types, domain.EventType(v))
	}
	for _, v := range splitParam(r, "vmIds") {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return hub.Filter{}, badParamError{"vmIds", v}
		}
		f.VMIDs = append(f.VMIDs, id)
	}

	return f, nil
}

// splitParam collects a parameter that may repeat or hold comma-separated
// values, e.g. ?severity=critical&severity=high,medium.
func splitParam(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type badParamError struct {
	param string
	value string
}

func (e badParamError) Error() string {
	return "invalid " + e.param + " value: " + e.value
}
