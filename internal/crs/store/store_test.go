package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetPopulatesOnce(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	id := ID{Name: "foo", Version: "1.0.0", Revision: 0}

	var calls atomic.Int32
	populate := func(ctx context.Context, tmp string) error {
		calls.Add(1)
		return os.WriteFile(filepath.Join(tmp, "marker"), []byte("x"), 0o644)
	}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.Get(context.Background(), id, populate)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("populate called %d times, want 1", calls.Load())
	}
	for _, p := range paths {
		if p != s.Path(id) {
			t.Errorf("path = %q, want %q", p, s.Path(id))
		}
	}
	if !s.Has(id) {
		t.Fatal("expected Has(id) to be true after Get")
	}
}

func TestGetAfterHasDoesNotPopulate(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	id := ID{Name: "foo", Version: "1.0.0", Revision: 0}

	if err := os.MkdirAll(s.Path(id), 0o755); err != nil {
		t.Fatal(err)
	}

	called := false
	_, err := s.Get(context.Background(), id, func(ctx context.Context, tmp string) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if called {
		t.Fatal("populate should not run when Has(id) is already true (invariant 1)")
	}
}

func TestGC(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	live := ID{Name: "keep", Version: "1.0.0", Revision: 0}
	dead := ID{Name: "drop", Version: "1.0.0", Revision: 0}

	for _, id := range []ID{live, dead} {
		if err := os.MkdirAll(s.Path(id), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(s.Path(id), "f"), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	removed, freed, err := s.GC(map[ID]bool{live: true})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(removed) != 1 || removed[0] != dead {
		t.Fatalf("removed = %v, want [%v]", removed, dead)
	}
	if freed == 0 {
		t.Fatal("expected non-zero bytes freed")
	}
	if !s.Has(live) {
		t.Fatal("live entry should survive GC")
	}
	if s.Has(dead) {
		t.Fatal("dead entry should be removed by GC")
	}
}
