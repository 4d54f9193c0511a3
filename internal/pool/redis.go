package pool

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/participant"
)

const (
	// Redis key patterns for the waiting pool.
	keyQueue       = "pool:queue"  // Sorted set, score = arrival timestamp (ms)
	keyEntryPrefix = "pool:entry:" // + <participant_id> -> Hash
)

// RedisStore is the shared waiting pool used when several service instances
// run behind one Redis. The queue is a sorted set scored by arrival time;
// each entry's snapshot lives in a hash keyed by participant identity.
// The claim is a Lua script so the joined_at comparison and the removal are
// one atomic step.
type RedisStore struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewRedisStore creates a waiting pool backed by the given Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:         rdb,
		claimScript: redis.NewScript(claimLua),
	}
}

// Insert adds an entry. Uniqueness per participant is enforced by ZADD NX on
// the queue set: if the member already exists the insert is rejected without
// touching the existing entry.
func (s *RedisStore) Insert(ctx context.Context, e Entry) error {
	id := string(e.Snapshot.ID)
	score := float64(e.JoinedAt.UnixMilli())

	added, err := s.rdb.ZAddNX(ctx, keyQueue, redis.Z{Score: score, Member: id}).Result()
	if err != nil {
		return fmt.Errorf("pool: insert %s: %w", id, err)
	}
	if added == 0 {
		return ErrAlreadyQueued
	}

	fields := map[string]interface{}{
		"joined_at":    strconv.FormatInt(e.JoinedAt.UnixMilli(), 10),
		"room":         e.Room,
		"gender":       e.Snapshot.Gender.String(),
		"country":      e.Snapshot.Country,
		"pref_gender":  e.Snapshot.PrefGender.String(),
		"pref_country": e.Snapshot.PrefCountry,
		"priority":     strconv.FormatBool(e.Snapshot.Priority),
	}
	if e.Snapshot.Age != nil {
		fields["age_min"] = e.Snapshot.Age.Min
		fields["age_max"] = e.Snapshot.Age.Max
	}
	if e.Snapshot.PrefAge != nil {
		fields["pref_age_min"] = e.Snapshot.PrefAge.Min
		fields["pref_age_max"] = e.Snapshot.PrefAge.Max
	}

	if err := s.rdb.HSet(ctx, keyEntryPrefix+id, fields).Err(); err != nil {
		// Roll the queue member back so a half-written entry is not matchable.
		s.rdb.ZRem(ctx, keyQueue, id)
		return fmt.Errorf("pool: insert %s: %w", id, err)
	}
	return nil
}

// Remove deletes a participant's entry. Idempotent; reports whether an entry
// was present.
func (s *RedisStore) Remove(ctx context.Context, id participant.ID) (bool, error) {
	pipe := s.rdb.Pipeline()
	zrem := pipe.ZRem(ctx, keyQueue, string(id))
	pipe.Del(ctx, keyEntryPrefix+string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("pool: remove %s: %w", id, err)
	}
	return zrem.Val() > 0, nil
}

// Entries returns current pool entries ordered by priority flag descending,
// then arrival ascending. The queue set already yields arrival order; the
// priority partition is applied in-process with a stable sort.
func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := s.rdb.ZRange(ctx, keyQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: list queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, keyEntryPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pool: load entries: %w", err)
	}

	out := make([]Entry, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue // queue member without a hash: claimed or half-removed
		}
		e, err := entryFromFields(participant.ID(id), fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Snapshot.Priority && !out[j].Snapshot.Priority
	})
	return out, nil
}

// Claim atomically removes the entry for id if its arrival timestamp still
// matches joinedAt. A racing claim for the same observation loses: the
// script returns 0 once the entry is gone or re-enqueued.
func (s *RedisStore) Claim(ctx context.Context, id participant.ID, joinedAt time.Time) (bool, error) {
	keys := []string{keyEntryPrefix + string(id), keyQueue}
	res, err := s.claimScript.Run(ctx, s.rdb, keys,
		string(id), strconv.FormatInt(joinedAt.UnixMilli(), 10)).Int()
	if err != nil {
		return false, fmt.Errorf("pool: claim %s: %w", id, err)
	}
	return res == 1, nil
}

// Size returns the number of waiting entries.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: size: %w", err)
	}
	return int(n), nil
}

func entryFromFields(id participant.ID, fields map[string]string) (Entry, error) {
	joinedMs, err := strconv.ParseInt(fields["joined_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("pool: entry %s: bad joined_at %q", id, fields["joined_at"])
	}
	gender, err := participant.ParseGender(fields["gender"])
	if err != nil {
		return Entry{}, fmt.Errorf("pool: entry %s: %w", id, err)
	}
	prefGender, err := participant.ParseGender(fields["pref_gender"])
	if err != nil {
		return Entry{}, fmt.Errorf("pool: entry %s: %w", id, err)
	}

	snap := participant.Snapshot{
		ID:          id,
		Priority:    fields["priority"] == "true",
		Gender:      gender,
		Country:     fields["country"],
		PrefGender:  prefGender,
		PrefCountry: fields["pref_country"],
	}
	snap.Age = parseAgeRange(fields["age_min"], fields["age_max"])
	snap.PrefAge = parseAgeRange(fields["pref_age_min"], fields["pref_age_max"])

	return Entry{
		Snapshot: snap,
		Room:     fields["room"],
		JoinedAt: time.UnixMilli(joinedMs),
	}, nil
}

func parseAgeRange(minField, maxField string) *participant.AgeRange {
	if minField == "" || maxField == "" {
		return nil
	}
	lo, err1 := strconv.Atoi(minField)
	hi, err2 := strconv.Atoi(maxField)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &participant.AgeRange{Min: lo, Max: hi}
}

// claimLua removes an entry only if its joined_at still matches the value
// the matcher observed. Comparison and removal are a single atomic step.
const claimLua = `
local entry_key = KEYS[1]
local queue_key = KEYS[2]
local id = ARGV[1]
local joined_at = ARGV[2]

local current = redis.call('HGET', entry_key, 'joined_at')
if not current or current ~= joined_at then
    return 0
end

redis.call('DEL', entry_key)
redis.call('ZREM', queue_key, id)
return 1
`
