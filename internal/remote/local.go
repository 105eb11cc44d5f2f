package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalReader reads log files from a locally mounted filesystem. Health
// probe commands still go over SSH since the hosts themselves are remote.
type LocalReader struct {
	ssh *SSHReader // for Run(); nil disables remote probes
}

// NewLocalReader creates a reader over the local filesystem. The optional
// ssh reader carries host probe commands.
func NewLocalReader(ssh *SSHReader) *LocalReader {
	return &LocalReader{ssh: ssh}
}

func (r *LocalReader) Name() string { return "local" }

// Stat returns size, mtime and inode of a local file. A missing file is not
// an error; Exists is false.
func (r *LocalReader) Stat(ctx context.Context, path string) (FileStat, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileStat{}, nil
		}
		return FileStat{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return FileStat{
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Inode:   inodeOf(fi),
		Exists:  true,
	}, nil
}

// ReadFrom reads bytes [offset, end) of a local file.
func (r *LocalReader) ReadFrom(ctx context.Context, path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek %s to %d: %w", path, offset, err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// ListDirs returns the sub-directory names of a local directory.
func (r *LocalReader) ListDirs(ctx context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %s: %w", path, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// Run executes a probe command on a remote host. Falls back to local exec
// when no SSH channel is configured (single-host deployments).
func (r *LocalReader) Run(ctx context.Context, host, command string) ([]byte, error) {
	if r.ssh != nil {
		return r.ssh.Run(ctx, host, command)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", command).Output()
	if err != nil {
		return nil, fmt.Errorf("local command failed: %w", err)
	}
	return out, nil
}

// CanSeekBack is true for local files: re-reading a byte range is cheap, so
// a trailing partial line can be retried on the next poll.
func (r *LocalReader) CanSeekBack() bool { return true }

func (r *LocalReader) Close() error {
	if r.ssh != nil {
		return r.ssh.Close()
	}
	return nil
}

// inodeOf extracts the inode from file info. On platforms without
// syscall.Stat_t the mtime stands in, which still changes on rotation for
// the copytruncate-free case.
func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	log.Debug().Str("file", fi.Name()).Msg("No inode available, using mtime proxy")
	return uint64(fi.ModTime().Unix())
}
