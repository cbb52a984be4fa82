package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/maizone/config"
)

type opener func(t *testing.T, path string) SeenStore

func backends() map[string]struct {
	file string
	open opener
} {
	return map[string]struct {
		file string
		open opener
	}{
		BackendSQLite: {file: "seen.db", open: func(t *testing.T, path string) SeenStore {
			s, err := NewSQLiteStore(path)
			if err != nil {
				t.Fatalf("NewSQLiteStore() failed: %v", err)
			}
			return s
		}},
		BackendBolt: {file: "seen.bolt", open: func(t *testing.T, path string) SeenStore {
			s, err := NewBoltStore(path)
			if err != nil {
				t.Fatalf("NewBoltStore() failed: %v", err)
			}
			return s
		}},
	}
}

func TestSeenStoreMarkOnce(t *testing.T) {
	for name, b := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t, filepath.Join(t.TempDir(), b.file))
			defer s.Close()

			first := time.Unix(1700000000, 0)
			if ok, err := s.Seen(ctx, "20002", "t1"); err != nil || ok {
				t.Fatalf("Seen() before mark = %v, %v", ok, err)
			}
			if err := s.MarkSeen(ctx, "20002", "t1", first); err != nil {
				t.Fatalf("MarkSeen() failed: %v", err)
			}
			if err := s.MarkSeen(ctx, "20002", "t1", first.Add(time.Hour)); err != nil {
				t.Fatalf("second MarkSeen() failed: %v", err)
			}
			if ok, err := s.Seen(ctx, "20002", "t1"); err != nil || !ok {
				t.Fatalf("Seen() after mark = %v, %v", ok, err)
			}
			if ok, _ := s.Seen(ctx, "30003", "t1"); ok {
				t.Fatalf("records must be scoped by target")
			}

			records, err := s.List(ctx, "20002")
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(records) != 1 || !records[0].SeenAt.Equal(first) {
				t.Fatalf("List() = %+v, want a single record keeping the first time", records)
			}
		})
	}
}

func TestSeenStoreSurvivesReopen(t *testing.T) {
	for name, b := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "data", b.file)

			s := b.open(t, path)
			if err := s.MarkSeen(ctx, "20002", "t1", time.Now()); err != nil {
				t.Fatalf("MarkSeen() failed: %v", err)
			}
			if err := s.MarkSeen(ctx, "30003", "t9", time.Now()); err != nil {
				t.Fatalf("MarkSeen() failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close() failed: %v", err)
			}

			reopened := b.open(t, path)
			defer reopened.Close()
			if ok, err := reopened.Seen(ctx, "20002", "t1"); err != nil || !ok {
				t.Fatalf("record lost after reopen: %v, %v", ok, err)
			}
			all, err := reopened.List(ctx, "")
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("List(\"\") = %+v, want 2 records", all)
			}
		})
	}
}

func TestSeenStorePrune(t *testing.T) {
	for name, b := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t, filepath.Join(t.TempDir(), b.file))
			defer s.Close()

			now := time.Unix(1700000000, 0)
			_ = s.MarkSeen(ctx, "20002", "old", now.Add(-48*time.Hour))
			_ = s.MarkSeen(ctx, "30003", "old", now.Add(-72*time.Hour))
			_ = s.MarkSeen(ctx, "20002", "new", now)

			n, err := s.Prune(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Prune() failed: %v", err)
			}
			if n != 2 {
				t.Fatalf("Prune() removed %d, want 2", n)
			}
			if ok, _ := s.Seen(ctx, "20002", "new"); !ok {
				t.Fatalf("recent record must survive prune")
			}
			if ok, _ := s.Seen(ctx, "20002", "old"); ok {
				t.Fatalf("old record should be pruned")
			}
		})
	}
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(config.StoreConfig{Path: filepath.Join(dir, "seen.db")})
	if err != nil {
		t.Fatalf("Open() default backend failed: %v", err)
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("default backend = %T, want *SQLiteStore", s)
	}
	_ = s.Close()

	s, err = Open(config.StoreConfig{Backend: "bolt", Path: filepath.Join(dir, "seen.bolt")})
	if err != nil {
		t.Fatalf("Open(bolt) failed: %v", err)
	}
	if _, ok := s.(*BoltStore); !ok {
		t.Fatalf("bolt backend = %T, want *BoltStore", s)
	}
	_ = s.Close()

	if _, err := Open(config.StoreConfig{Backend: "redis", Path: filepath.Join(dir, "x")}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
