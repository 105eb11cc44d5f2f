package position

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

func newTestStore(t *testing.T) *BoltDBStore {
	t.Helper()
	store, err := NewBoltDBStore(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetAbsent(t *testing.T) {
	store := newTestStore(t)

	pos, err := store.Get(context.Background(), "u2:u2-vm30000:auth")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if pos != nil {
		t.Fatalf("expected nil position for never-read source, got %+v", pos)
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := &domain.FilePosition{
		SourceKey: "u2:u2-vm30000:auth",
		Offset:    4096,
		ModTime:   time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC),
		Inode:     123456,
	}

	if err := store.Set(ctx, want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, want.SourceKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil after Set")
	}
	if got.Offset != want.Offset || got.Inode != want.Inode || !got.ModTime.Equal(want.ModTime) {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestSetOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos := &domain.FilePosition{SourceKey: "u2:u2-vm30000:kernel", Offset: 100, Inode: 1}
	if err := store.Set(ctx, pos); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	pos.Offset = 0
	pos.Inode = 2
	if err := store.Set(ctx, pos); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	got, err := store.Get(ctx, pos.SourceKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Offset != 0 || got.Inode != 2 {
		t.Errorf("overwrite not applied: got %+v", got)
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keys := []string{"u2:u2-vm30000:auth", "u2:u2-vm30000:kernel", "u8:u8-vm30000:system"}
	for i, k := range keys {
		if err := store.Set(ctx, &domain.FilePosition{SourceKey: k, Offset: int64(i * 10)}); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != len(keys) {
		t.Fatalf("List() returned %d entries, want %d", len(all), len(keys))
	}
	for i, k := range keys {
		if all[k] == nil || all[k].Offset != int64(i*10) {
			t.Errorf("List()[%s] = %+v", k, all[k])
		}
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos := &domain.FilePosition{SourceKey: "u3:u3:auth", Offset: 7}
	if err := store.Set(ctx, pos); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, pos.SourceKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.Get(ctx, pos.SourceKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after Delete, got %+v", got)
	}
}
