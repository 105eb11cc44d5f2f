package remote

import (
	"context"
	"time"
)

// FileStat is the metadata the ingest coordinator needs to decide whether a
// source file changed or rotated.
type FileStat struct {
	Size    int64
	ModTime time.Time
	Inode   uint64
	Exists  bool
}

// Reader abstracts access to log files that may live on the local
// filesystem or behind a remote shell channel. The ingest coordinator is
// agnostic to which transport backs it.
//
// ReadFrom returns bytes [offset, end) of the file. CanSeekBack reports
// whether the transport can cheaply re-read a byte range, which lets the
// coordinator retain a trailing partial line across polls instead of
// accepting at-least-once duplication.
type Reader interface {
	// Name identifies the transport for logging.
	Name() string

	Stat(ctx context.Context, path string) (FileStat, error)
	ReadFrom(ctx context.Context, path string, offset int64) ([]byte, error)

	// ListDirs returns the names of sub-directories of path.
	ListDirs(ctx context.Context, path string) ([]string, error)

	// Run executes a shell command on the target and returns its stdout.
	// Used by the health poller.
	Run(ctx context.Context, host, command string) ([]byte, error)

	CanSeekBack() bool

	Close() error
}
