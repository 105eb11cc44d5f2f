package domain

import (
	"fmt"
	"time"
)

// LogKind names the class of log a source file carries.
type LogKind string

const (
	LogKindAuth   LogKind = "auth"
	LogKindKernel LogKind = "kernel"
	LogKindSystem LogKind = "system"
)

// KindForFile maps a watched file name to its log kind.
func KindForFile(name string) (LogKind, bool) {
	switch name {
	case "auth.log":
		return LogKindAuth, true
	case "kern.log":
		return LogKindKernel, true
	case "syslog":
		return LogKindSystem, true
	default:
		return "", false
	}
}

// FileForKind is the inverse of KindForFile.
func FileForKind(kind LogKind) string {
	switch kind {
	case LogKindAuth:
		return "auth.log"
	case LogKindKernel:
		return "kern.log"
	case LogKindSystem:
		return "syslog"
	default:
		return ""
	}
}

// LogSource identifies one watched log file tied to a VM directory.
// Immutable once discovered; discovery re-runs periodically as new VM
// directories appear.
type LogSource struct {
	VMName string
	Host   string
	Kind   LogKind
	Path   string
}

// Key returns the stable identity of the source used by the position store
// and the scheduler.
func (s LogSource) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.Host, s.VMName, s.Kind)
}

// FilePosition records how far a source file has been consumed. Owned by the
// position store; mutated only after a successful read-and-parse cycle.
// If Inode differs from the file's current inode the file has rotated and
// Offset must reset to 0 before the next read.
type FilePosition struct {
	SourceKey string    `json:"sourceKey"`
	Offset    int64     `json:"offset"`
	ModTime   time.Time `json:"modTime"`
	Inode     uint64    `json:"inode"`
}
