package ingest

import (
	"strings"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

const pipeTimestampLayout = "2006-01-02 15:04:05"

// PipeFields is the result of parsing the collector's pipe-delimited line
// format: "TIMESTAMP | VM_NAME | LOG_SOURCE | ORIGINAL_LOG_ENTRY". The VM
// and source fields override whatever the file path implied.
type PipeFields struct {
	Timestamp time.Time
	VMName    string
	Kind      domain.LogKind
	Message   string
}

// ParsePipeLine parses the pipe-delimited collector format. Returns false
// for lines not in that format.
func ParsePipeLine(line string) (PipeFields, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), " | ", 4)
	if len(parts) != 4 {
		return PipeFields{}, false
	}

	ts, err := time.Parse(pipeTimestampLayout, parts[0])
	if err != nil {
		return PipeFields{}, false
	}

	kind, ok := domain.KindForFile(parts[2])
	if !ok {
		// The source column may carry the kind name directly.
		kind = domain.LogKind(parts[2])
		switch kind {
		case domain.LogKindAuth, domain.LogKindKernel, domain.LogKindSystem:
		default:
			return PipeFields{}, false
		}
	}

	return PipeFields{
		Timestamp: ts,
		VMName:    parts[1],
		Kind:      kind,
		Message:   parts[3],
	}, true
}

// ParseSyslogTimestamp extracts the leading syslog timestamp
// ("Mon  D HH:MM:SS", no year). The year is assumed current and corrected
// backward when the resulting date lands in the future, which happens for
// December lines read in January.
func ParseSyslogTimestamp(line string, now time.Time) (time.Time, bool) {
	if len(line) < 15 {
		return time.Time{}, false
	}

	t, err := time.Parse("Jan _2 15:04:05", line[:15])
	if err != nil {
		return time.Time{}, false
	}

	ts := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	if ts.After(now) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts, true
}

// lineTimestamp resolves the timestamp, VM name and kind for one raw line.
// Pipe-format lines override the path-derived identity; syslog lines keep
// it; anything else falls back to the ingest wall-clock time.
func lineTimestamp(line, pathVM string, pathKind domain.LogKind, now time.Time) (time.Time, string, domain.LogKind, string) {
	if pf, ok := ParsePipeLine(line); ok {
		return pf.Timestamp, pf.VMName, pf.Kind, pf.Message
	}
	if ts, ok := ParseSyslogTimestamp(line, now); ok {
		return ts, pathVM, pathKind, line
	}
	return now, pathVM, pathKind, line
}
