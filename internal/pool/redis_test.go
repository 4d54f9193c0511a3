package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/participant"
)

// setupRedisStore creates a RedisStore against a test Redis instance.
// Requires Redis on localhost:6379. Tests are skipped if unavailable.
func setupRedisStore(t *testing.T) (*RedisStore, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewRedisStore(rdb), ctx
}

func TestRedisInsertAndSize(t *testing.T) {
	s, ctx := setupRedisStore(t)
	now := time.Now()

	if err := s.Insert(ctx, entry("a", false, now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, entry("a", false, now)); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate insert: got %v, want ErrAlreadyQueued", err)
	}
	if n, _ := s.Size(ctx); n != 1 {
		t.Errorf("size = %d, want 1", n)
	}
}

func TestRedisEntriesRoundTrip(t *testing.T) {
	s, ctx := setupRedisStore(t)
	joined := time.Now().Truncate(time.Millisecond)

	in := Entry{
		Snapshot: participant.Snapshot{
			ID:          "alice",
			Priority:    true,
			Gender:      participant.GenderFemale,
			Age:         &participant.AgeRange{Min: 21, Max: 28},
			Country:     "DE",
			PrefGender:  participant.GenderMale,
			PrefCountry: "DE",
		},
		Room:     "music",
		JoinedAt: joined,
	}
	if err := s.Insert(ctx, in); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.Snapshot.ID != "alice" || !got.Snapshot.Priority {
		t.Errorf("identity/priority lost: %+v", got.Snapshot)
	}
	if got.Snapshot.Gender != participant.GenderFemale || got.Snapshot.PrefGender != participant.GenderMale {
		t.Errorf("gender fields lost: %+v", got.Snapshot)
	}
	if got.Snapshot.Age == nil || got.Snapshot.Age.Min != 21 || got.Snapshot.Age.Max != 28 {
		t.Errorf("age range lost: %+v", got.Snapshot.Age)
	}
	if got.Room != "music" || !got.JoinedAt.Equal(joined) {
		t.Errorf("room/arrival lost: room=%q joined=%v want %v", got.Room, got.JoinedAt, joined)
	}
}

func TestRedisEntriesOrdering(t *testing.T) {
	s, ctx := setupRedisStore(t)
	base := time.Now().Truncate(time.Millisecond)

	s.Insert(ctx, entry("old-standard", false, base))
	s.Insert(ctx, entry("old-priority", true, base.Add(time.Second)))
	s.Insert(ctx, entry("new-standard", false, base.Add(2*time.Second)))
	s.Insert(ctx, entry("new-priority", true, base.Add(3*time.Second)))

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []participant.ID{"old-priority", "new-priority", "old-standard", "new-standard"}
	for i, id := range want {
		if entries[i].Snapshot.ID != id {
			t.Errorf("position %d: got %s, want %s", i, entries[i].Snapshot.ID, id)
		}
	}
}

func TestRedisClaim(t *testing.T) {
	s, ctx := setupRedisStore(t)
	joined := time.Now().Truncate(time.Millisecond)
	s.Insert(ctx, entry("a", false, joined))

	if ok, _ := s.Claim(ctx, "a", joined.Add(time.Millisecond)); ok {
		t.Error("claim with wrong arrival timestamp should fail")
	}
	ok, err := s.Claim(ctx, "a", joined)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Claim(ctx, "a", joined); ok {
		t.Error("second claim should fail")
	}
	if n, _ := s.Size(ctx); n != 0 {
		t.Errorf("size after claim = %d, want 0", n)
	}
}

func TestRedisRemoveIdempotent(t *testing.T) {
	s, ctx := setupRedisStore(t)
	s.Insert(ctx, entry("a", false, time.Now()))

	if ok, _ := s.Remove(ctx, "a"); !ok {
		t.Error("first remove should report presence")
	}
	if ok, _ := s.Remove(ctx, "a"); ok {
		t.Error("second remove should report absence")
	}
}
