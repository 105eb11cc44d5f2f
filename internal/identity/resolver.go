package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

// Inventory is the metadata lookup the resolver refreshes from.
type Inventory interface {
	ListVMs(ctx context.Context) ([]domain.VMRecord, error)
}

// ErrUnknownVM is returned when a VM name resolves to nothing even after a
// cache refresh. Callers drop the affected candidate and keep going.
var ErrUnknownVM = fmt.Errorf("unknown vm name")

// Resolver maps log-source directory names to VM identifiers. The cache is
// refreshed on a TTL or on miss; unresolved names go into a short-lived
// negative cache so a flood of lines from an unregistered VM does not turn
// into a flood of inventory queries.
type Resolver struct {
	inventory Inventory
	ttl       time.Duration

	mu          sync.RWMutex
	byAlias     map[string]int64
	lastRefresh time.Time

	negative *expirable.LRU[string, struct{}]
}

// NewResolver creates a resolver refreshing from inventory at the given TTL.
func NewResolver(inventory Inventory, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		inventory: inventory,
		ttl:       ttl,
		byAlias:   make(map[string]int64),
		negative:  expirable.NewLRU[string, struct{}](1024, nil, ttl),
	}
}

// Resolve returns the VM id for a directory or log-reported name.
func (r *Resolver) Resolve(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrUnknownVM
	}

	r.mu.RLock()
	id, ok := r.byAlias[name]
	stale := time.Since(r.lastRefresh) > r.ttl
	r.mu.RUnlock()

	if ok && !stale {
		return id, nil
	}

	// Recently-confirmed misses don't warrant another inventory round-trip.
	if _, miss := r.negative.Get(name); miss && !stale {
		return 0, ErrUnknownVM
	}

	if err := r.Refresh(ctx); err != nil {
		// A failed refresh degrades to the stale cache rather than dropping
		// every candidate of a known VM.
		if ok {
			return id, nil
		}
		return 0, fmt.Errorf("failed to refresh vm cache: %w", err)
	}

	r.mu.RLock()
	id, ok = r.byAlias[name]
	r.mu.RUnlock()

	if !ok {
		r.negative.Add(name, struct{}{})
		return 0, ErrUnknownVM
	}
	return id, nil
}

// Refresh reloads the alias table from inventory. All naming conventions of
// a VM are registered so both the bare and host-prefixed forms resolve.
func (r *Resolver) Refresh(ctx context.Context) error {
	vms, err := r.inventory.ListVMs(ctx)
	if err != nil {
		return err
	}

	byAlias := make(map[string]int64, len(vms)*2)
	for _, vm := range vms {
		for _, alias := range AliasesFor(vm.Name) {
			byAlias[alias] = vm.ID
		}
		for _, alias := range vm.Aliases {
			if alias != "" {
				byAlias[alias] = vm.ID
			}
		}
	}

	r.mu.Lock()
	r.byAlias = byAlias
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	log.Debug().
		Int("vms", len(vms)).
		Int("aliases", len(byAlias)).
		Msg("VM identity cache refreshed")

	return nil
}

// AliasesFor derives the known naming conventions for a VM name.
// "u2-vm30000" is also known as "vm30000" and "u2"; a bare "u3" is just
// itself.
func AliasesFor(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	aliases := []string{name}
	if idx := strings.Index(name, "-vm"); idx > 0 {
		aliases = append(aliases, name[idx+1:]) // "vm30000"
		aliases = append(aliases, name[:idx])   // "u2"
	}
	return aliases
}
