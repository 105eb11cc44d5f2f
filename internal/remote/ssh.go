package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/config"
)

// SSHReader reads log files over an exec'd ssh channel. Authentication
// rides on the ambient ssh configuration (agent, identity file), the same
// way the fleet's operators reach the hosts by hand.
type SSHReader struct {
	cfg     config.SSHConfig
	logHost string // host serving the log root
}

// NewSSHReader creates a reader that shells out to ssh for every remote
// operation against logHost.
func NewSSHReader(cfg config.SSHConfig, logHost string) *SSHReader {
	return &SSHReader{cfg: cfg, logHost: logHost}
}

func (r *SSHReader) Name() string { return "ssh:" + r.logHost }

// Stat runs `stat` remotely and parses size, mtime and inode.
func (r *SSHReader) Stat(ctx context.Context, path string) (FileStat, error) {
	out, err := r.Run(ctx, r.logHost, fmt.Sprintf("stat -c '%%s %%Y %%i' %s 2>/dev/null || echo MISSING", shellQuote(path)))
	if err != nil {
		return FileStat{}, err
	}

	text := strings.TrimSpace(string(out))
	if text == "MISSING" || text == "" {
		return FileStat{}, nil
	}

	fields := strings.Fields(text)
	if len(fields) != 3 {
		return FileStat{}, fmt.Errorf("unexpected stat output for %s: %q", path, text)
	}

	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return FileStat{}, fmt.Errorf("bad size in stat output %q: %w", text, err)
	}
	mtime, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileStat{}, fmt.Errorf("bad mtime in stat output %q: %w", text, err)
	}
	inode, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return FileStat{}, fmt.Errorf("bad inode in stat output %q: %w", text, err)
	}

	return FileStat{
		Size:    size,
		ModTime: time.Unix(mtime, 0),
		Inode:   inode,
		Exists:  true,
	}, nil
}

// ReadFrom reads bytes [offset, end) via `tail -c +N` (tail counts from 1).
func (r *SSHReader) ReadFrom(ctx context.Context, path string, offset int64) ([]byte, error) {
	cmd := fmt.Sprintf("tail -c +%d %s", offset+1, shellQuote(path))
	return r.Run(ctx, r.logHost, cmd)
}

// ListDirs lists sub-directories of a remote path.
func (r *SSHReader) ListDirs(ctx context.Context, path string) ([]string, error) {
	out, err := r.Run(ctx, r.logHost, fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -type d -printf '%%f\\n' 2>/dev/null", shellQuote(path)))
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			dirs = append(dirs, line)
		}
	}
	return dirs, nil
}

// Run executes a command on a host through ssh with bounded connect and
// execution deadlines so one dead host cannot stall a scheduler tick.
func (r *SSHReader) Run(ctx context.Context, host, command string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeoutDuration())
	defer cancel()

	args := []string{
		"-o", fmt.Sprintf("ConnectTimeout=%d", r.cfg.ConnectTimeout),
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
	}
	if r.cfg.IdentityFile != "" {
		args = append(args, "-i", r.cfg.IdentityFile)
	}
	args = append(args, fmt.Sprintf("%s@%s", r.cfg.User, host), command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("ssh command to %s timed out: %w", host, ctx.Err())
		}
		return nil, fmt.Errorf("ssh command to %s failed: %w (stderr: %s)", host, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// CanSeekBack is false over ssh: re-reading means another tail invocation,
// so the coordinator accepts at-least-once duplication for partial lines
// and leans on the dedup window.
func (r *SSHReader) CanSeekBack() bool { return false }

func (r *SSHReader) Close() error { return nil }

// shellQuote wraps a path in single quotes for the remote shell. Paths come
// from our own discovery, this guards against spaces, not hostile input.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Probe selects the transport at startup: direct filesystem access when the
// log root is locally mounted, the ssh channel otherwise. Returns an error
// when neither transport can resolve the log root, which is fatal.
func Probe(ctx context.Context, logRoot string, fleet *config.Fleet) (Reader, error) {
	var ssh *SSHReader
	if fleet.LogHost != "" {
		ssh = NewSSHReader(fleet.SSH, fleet.LogHost)
	}

	local := NewLocalReader(ssh)
	if dirs, err := local.ListDirs(ctx, logRoot); err == nil {
		log.Info().
			Str("log_root", logRoot).
			Int("vm_dirs", len(dirs)).
			Msg("Log root is locally mounted, using filesystem reader")
		return local, nil
	}

	if ssh == nil {
		return nil, fmt.Errorf("log root %s not locally mounted and no log_host configured", logRoot)
	}

	if _, err := ssh.ListDirs(ctx, logRoot); err != nil {
		return nil, fmt.Errorf("log root %s unreachable via any transport: %w", logRoot, err)
	}

	log.Info().
		Str("log_root", logRoot).
		Str("log_host", fleet.LogHost).
		Msg("Using ssh reader for log root")
	return ssh, nil
}
