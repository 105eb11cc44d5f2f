package domain

import "time"

// Severity ranks a security event. The order is total:
// critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a sortable weight for the severity (higher is more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// EventType identifies the detection rule family that produced an event.
type EventType string

const (
	EventEgressAttempt       EventType = "egress_attempt"
	EventBruteForce          EventType = "brute_force"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventOOMKill             EventType = "oom_kill"
	EventSuspiciousBehavior  EventType = "suspicious_behavior"
	EventSystemAlert         EventType = "system_alert"
	EventFileAccess          EventType = "file_access"
)

// EventCandidate is an unpersisted classification result. Candidates are not
// unique: the same log line can be re-read after a crash or an offset-store
// failure, and the batch writer filters duplicates before persistence.
type EventCandidate struct {
	VMID       int64
	VMName     string
	Timestamp  time.Time
	Source     LogKind
	RawMessage string
	Type       EventType
	Severity   Severity
	Metadata   map[string]string
}

// SecurityEvent is the persisted form of a candidate. Created once by the
// batch writer on first sight within the dedup window; after that the core
// never mutates it. AckAt is set by an operator action outside the pipeline.
type SecurityEvent struct {
	ID        int64             `json:"id"`
	VMID      int64             `json:"vmId"`
	Timestamp time.Time         `json:"timestamp"`
	Source    LogKind           `json:"source"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Type      EventType         `json:"rule"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	AckAt     *time.Time        `json:"ackAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// FlushSummary describes the outcome of one writer flush. It is pushed to
// subscribed dashboard clients as a security-events-update message.
type FlushSummary struct {
	Inserted   int            `json:"inserted"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	BySeverity map[string]int `json:"bySeverity,omitempty"`
	FlushedAt  time.Time      `json:"flushedAt"`
}
