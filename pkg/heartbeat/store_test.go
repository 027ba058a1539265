package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	last, err := store.Last(ctx)
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if !last.IsZero() {
		t.Errorf("Last() = %v, want zero before any update", last)
	}

	now := time.Now()
	if err := store.Update(ctx, now); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if last, _ := store.Last(ctx); !last.Equal(now) {
		t.Errorf("Last() = %v, want %v", last, now)
	}

	// Older timestamps are ignored.
	if err := store.Update(ctx, now.Add(-time.Second)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if last, _ := store.Last(ctx); !last.Equal(now) {
		t.Errorf("Last() = %v, want %v after older update", last, now)
	}

	older := now.Add(-time.Minute)
	if err := store.Reset(ctx, older); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if last, _ := store.Last(ctx); !last.Equal(older) {
		t.Errorf("Last() = %v, want %v after Reset", last, older)
	}
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Update(ctx, base.Add(time.Duration(i)*time.Millisecond))
			_, _ = store.Last(ctx)
		}(i)
	}
	wg.Wait()

	want := base.Add(49 * time.Millisecond)
	if last, _ := store.Last(ctx); !last.Equal(want) {
		t.Errorf("Last() = %v, want %v", last, want)
	}
}
