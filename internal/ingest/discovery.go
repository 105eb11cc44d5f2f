package ingest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/remote"
)

var watchedFiles = []string{"auth.log", "kern.log", "syslog"}

// DiscoverSources scans the log root for VM directories and produces one
// LogSource per watched file. Discovery re-runs periodically so sources for
// newly provisioned VMs appear without a restart.
func DiscoverSources(ctx context.Context, reader remote.Reader, logRoot, host string) ([]domain.LogSource, error) {
	dirs, err := reader.ListDirs(ctx, logRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list vm directories under %s: %w", logRoot, err)
	}

	var sources []domain.LogSource
	for _, dir := range dirs {
		if !IsVMDirectory(dir) {
			continue
		}
		for _, file := range watchedFiles {
			kind, _ := domain.KindForFile(file)
			sources = append(sources, domain.LogSource{
				VMName: dir,
				Host:   host,
				Kind:   kind,
				Path:   path.Join(logRoot, dir, file),
			})
		}
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Key() < sources[j].Key()
	})

	log.Debug().
		Int("vm_dirs", len(dirs)).
		Int("sources", len(sources)).
		Msg("Source discovery complete")

	return sources, nil
}

// IsVMDirectory reports whether a directory name follows the fleet's VM
// naming: "u<N>" or a host-prefixed "-vm" form like "u2-vm30000".
func IsVMDirectory(name string) bool {
	if !strings.HasPrefix(name, "u") {
		return false
	}
	if strings.Contains(name, "-vm") {
		return true
	}
	rest := name[1:]
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
