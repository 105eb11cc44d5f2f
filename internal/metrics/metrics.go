package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline-wide Prometheus collectors. Registered on the default registry
// and served from the /metrics endpoint.
var (
	LinesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "lines_processed_total",
		Help:      "Raw log lines read and split across all sources.",
	})

	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "candidates_total",
		Help:      "Classified event candidates by rule family.",
	}, []string{"rule"})

	EventsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "events_inserted_total",
		Help:      "Security events persisted after deduplication, by severity.",
	}, []string{"severity"})

	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "duplicates_dropped_total",
		Help:      "Candidates dropped inside the dedup window.",
	})

	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "flush_failures_total",
		Help:      "Writer flushes that failed entirely.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "secpipeline",
		Name:      "stream_clients",
		Help:      "Currently connected dashboard stream clients.",
	})

	ClientsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "stream_clients_evicted_total",
		Help:      "Stream clients evicted, by reason.",
	}, []string{"reason"})

	HostsDown = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "secpipeline",
		Name:      "hosts_down",
		Help:      "Fleet hosts that failed their last health probe.",
	})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secpipeline",
		Name:      "poll_cycles_total",
		Help:      "Scheduler poll cycles by outcome.",
	}, []string{"outcome"})
)
