package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

func entry(id string, priority bool, joined time.Time) Entry {
	return Entry{
		Snapshot: participant.Snapshot{ID: participant.ID(id), Priority: priority},
		JoinedAt: joined,
	}
}

func TestMemoryInsertRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	if err := s.Insert(ctx, entry("a", false, now)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.Insert(ctx, entry("a", true, now.Add(time.Second)))
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second insert: got %v, want ErrAlreadyQueued", err)
	}

	// The original entry must be unchanged.
	entries, _ := s.Entries(ctx)
	if len(entries) != 1 {
		t.Fatalf("pool size = %d, want 1", len(entries))
	}
	if entries[0].Snapshot.Priority {
		t.Error("duplicate insert overwrote the existing entry")
	}
}

func TestMemoryRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Insert(ctx, entry("a", false, time.Now()))

	if ok, _ := s.Remove(ctx, "a"); !ok {
		t.Error("first remove should report an entry was present")
	}
	if ok, _ := s.Remove(ctx, "a"); ok {
		t.Error("second remove should report no entry")
	}
	if n, _ := s.Size(ctx); n != 0 {
		t.Errorf("size = %d, want 0", n)
	}
}

func TestMemoryEntriesOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	s.Insert(ctx, entry("old-standard", false, base))
	s.Insert(ctx, entry("new-standard", false, base.Add(2*time.Second)))
	s.Insert(ctx, entry("new-priority", true, base.Add(3*time.Second)))
	s.Insert(ctx, entry("old-priority", true, base.Add(time.Second)))

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}

	want := []participant.ID{"old-priority", "new-priority", "old-standard", "new-standard"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].Snapshot.ID != id {
			t.Errorf("position %d: got %s, want %s", i, entries[i].Snapshot.ID, id)
		}
	}
}

func TestMemoryClaimRequiresMatchingArrival(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	joined := time.Now()
	s.Insert(ctx, entry("a", false, joined))

	if ok, _ := s.Claim(ctx, "a", joined.Add(time.Millisecond)); ok {
		t.Error("claim with stale arrival timestamp should fail")
	}
	if ok, _ := s.Claim(ctx, "a", joined); !ok {
		t.Error("claim with matching arrival timestamp should succeed")
	}
	if ok, _ := s.Claim(ctx, "a", joined); ok {
		t.Error("claim after removal should fail")
	}
}

func TestMemoryClaimAfterReenqueueFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	first := time.Now()
	s.Insert(ctx, entry("a", false, first))

	// Entry leaves and comes back with a newer arrival.
	s.Remove(ctx, "a")
	s.Insert(ctx, entry("a", false, first.Add(time.Second)))

	if ok, _ := s.Claim(ctx, "a", first); ok {
		t.Error("claim keyed to the old arrival must not remove the new entry")
	}
	if n, _ := s.Size(ctx); n != 1 {
		t.Errorf("size = %d, want 1", n)
	}
}

func TestMemoryClaimSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	joined := time.Now()
	s.Insert(ctx, entry("victim", false, joined))

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Claim(ctx, "victim", joined); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", won)
	}
}
