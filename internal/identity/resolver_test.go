package identity

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

type fakeInventory struct {
	vms   []domain.VMRecord
	err   error
	calls int
}

func (f *fakeInventory) ListVMs(ctx context.Context) ([]domain.VMRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vms, nil
}

func TestAliasesFor(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"u2-vm30000", []string{"u2-vm30000", "vm30000", "u2"}},
		{"u3", []string{"u3"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AliasesFor(tt.name); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AliasesFor(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestResolveByAnyAlias(t *testing.T) {
	inv := &fakeInventory{vms: []domain.VMRecord{
		{ID: 7, Name: "u2-vm30000"},
		{ID: 9, Name: "u3"},
	}}
	r := NewResolver(inv, time.Minute)
	ctx := context.Background()

	for name, want := range map[string]int64{
		"u2-vm30000": 7,
		"vm30000":    7,
		"u2":         7,
		"u3":         9,
	} {
		got, err := r.Resolve(ctx, name)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", name, err)
		}
		if got != want {
			t.Errorf("Resolve(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestResolveUnknownUsesNegativeCache(t *testing.T) {
	inv := &fakeInventory{vms: []domain.VMRecord{{ID: 1, Name: "u2-vm30000"}}}
	r := NewResolver(inv, time.Minute)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "ghost"); !errors.Is(err, ErrUnknownVM) {
		t.Fatalf("Resolve(ghost) error = %v, want ErrUnknownVM", err)
	}
	refreshes := inv.calls

	// A second miss within the TTL must not hit inventory again.
	if _, err := r.Resolve(ctx, "ghost"); !errors.Is(err, ErrUnknownVM) {
		t.Fatalf("Resolve(ghost) second error = %v, want ErrUnknownVM", err)
	}
	if inv.calls != refreshes {
		t.Errorf("negative cache bypassed: inventory called %d times, want %d", inv.calls, refreshes)
	}
}

func TestResolveSurvivesRefreshFailure(t *testing.T) {
	inv := &fakeInventory{vms: []domain.VMRecord{{ID: 5, Name: "u8-vm30000"}}}
	r := NewResolver(inv, time.Nanosecond) // everything is immediately stale
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "u8-vm30000"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Inventory goes down; a stale cache entry must still resolve.
	inv.err = errors.New("connection refused")
	time.Sleep(time.Millisecond)

	got, err := r.Resolve(ctx, "u8-vm30000")
	if err != nil {
		t.Fatalf("Resolve() with failed refresh error = %v", err)
	}
	if got != 5 {
		t.Errorf("Resolve() = %d, want 5", got)
	}
}

func TestResolvePicksUpNewVMs(t *testing.T) {
	inv := &fakeInventory{vms: []domain.VMRecord{{ID: 1, Name: "u2-vm30000"}}}
	r := NewResolver(inv, time.Nanosecond)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "u9"); !errors.Is(err, ErrUnknownVM) {
		t.Fatalf("Resolve(u9) error = %v, want ErrUnknownVM", err)
	}

	inv.vms = append(inv.vms, domain.VMRecord{ID: 2, Name: "u9"})
	time.Sleep(time.Millisecond)

	got, err := r.Resolve(ctx, "u9")
	if err != nil {
		t.Fatalf("Resolve(u9) after registration error = %v", err)
	}
	if got != 2 {
		t.Errorf("Resolve(u9) = %d, want 2", got)
	}
}
