package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/astrelia/readings/internal/interpret"
	"github.com/astrelia/readings/internal/prompt"
)

type mockDurableStore struct {
	entries map[string]*Entry
	getErr  error
	putErr  error
	gets    int
	puts    int
}

func newMockDurableStore() *mockDurableStore {
	return &mockDurableStore{entries: map[string]*Entry{}}
}

func (m *mockDurableStore) Get(ctx context.Context, hash string, rt prompt.ReadingType, now time.Time) (*Entry, error) {
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[hash+":"+string(rt)]
	if !ok || !e.ExpiresAt.After(now) {
		return nil, nil
	}
	return e, nil
}

func (m *mockDurableStore) Upsert(ctx context.Context, entry *Entry) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[entry.Hash+":"+string(entry.Type)] = entry
	return nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testResult() *interpret.Result {
	return &interpret.Result{
		Order: []string{"overview", "opportunities", "cautions"},
		Sections: map[string]interpret.Section{
			"overview":      {Preview: "p", Full: "f"},
			"opportunities": {Preview: "p", Full: "f"},
			"cautions":      {Preview: "p", Full: "f"},
		},
		Summary: interpret.Section{Preview: "s", Full: "s"},
	}
}

func TestComputeKey_Deterministic(t *testing.T) {
	date := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	v := prompt.Variant{Year: 2026, Question: "will it rain"}

	k1 := ComputeKey(date, "08:30", "Taipei", "female", prompt.Annual, v, "v1")
	k2 := ComputeKey(date, "08:30", "Taipei", "female", prompt.Annual, v, "v1")
	if k1 != k2 {
		t.Error("Identical fields must hash identically")
	}

	// City normalization folds case and whitespace.
	k3 := ComputeKey(date, "08:30", "  taipei ", "Female", prompt.Annual, v, "v1")
	if k1 != k3 {
		t.Error("Normalized fields must hash identically")
	}
}

func TestComputeKey_AnyFieldChangesKey(t *testing.T) {
	date := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	v := prompt.Variant{Year: 2026}
	base := ComputeKey(date, "08:30", "Taipei", "female", prompt.Annual, v, "v1")

	variants := []Key{
		ComputeKey(date.AddDate(0, 0, 1), "08:30", "Taipei", "female", prompt.Annual, v, "v1"),
		ComputeKey(date, "08:31", "Taipei", "female", prompt.Annual, v, "v1"),
		ComputeKey(date, "08:30", "Tainan", "female", prompt.Annual, v, "v1"),
		ComputeKey(date, "08:30", "Taipei", "male", prompt.Annual, v, "v1"),
		ComputeKey(date, "08:30", "Taipei", "female", prompt.Lifetime, v, "v1"),
		ComputeKey(date, "08:30", "Taipei", "female", prompt.Annual, prompt.Variant{Year: 2027}, "v1"),
		ComputeKey(date, "08:30", "Taipei", "female", prompt.Annual, v, "v2"),
	}
	for i, k := range variants {
		if k == base {
			t.Errorf("Variant %d should change the key", i)
		}
	}
}

func TestGet_FastTierHit(t *testing.T) {
	rdb := testRedis(t)
	durable := newMockDurableStore()
	c := New(rdb, durable)

	key := Key("abc")
	c.Put(context.Background(), key, prompt.Monthly, testResult(), []byte(`{}`))

	durable.gets = 0
	res := c.Get(context.Background(), key, prompt.Monthly)
	if res == nil {
		t.Fatal("Expected fast-tier hit")
	}
	if durable.gets != 0 {
		t.Error("Fast-tier hit must not touch the durable tier")
	}
}

func TestGet_DurableHitRepopulatesFast(t *testing.T) {
	rdb := testRedis(t)
	durable := newMockDurableStore()
	c := New(rdb, durable)

	data, _ := json.Marshal(testResult())
	durable.entries["abc:monthly"] = &Entry{
		Hash:           "abc",
		Type:           prompt.Monthly,
		Interpretation: data,
		ExpiresAt:      time.Now().Add(time.Hour),
	}

	res := c.Get(context.Background(), Key("abc"), prompt.Monthly)
	if res == nil {
		t.Fatal("Expected durable-tier hit")
	}

	// Second read must now come from the fast tier.
	durable.gets = 0
	if c.Get(context.Background(), Key("abc"), prompt.Monthly) == nil {
		t.Fatal("Expected repopulated fast-tier hit")
	}
	if durable.gets != 0 {
		t.Error("Expected fast tier to be repopulated after durable hit")
	}
}

func TestGet_ExpiredDurableEntryIsMiss(t *testing.T) {
	rdb := testRedis(t)
	durable := newMockDurableStore()
	c := New(rdb, durable)

	data, _ := json.Marshal(testResult())
	durable.entries["abc:monthly"] = &Entry{
		Hash:           "abc",
		Type:           prompt.Monthly,
		Interpretation: data,
		ExpiresAt:      time.Now().Add(-time.Minute),
	}

	if res := c.Get(context.Background(), Key("abc"), prompt.Monthly); res != nil {
		t.Error("Expired durable entry must be a miss")
	}
}

func TestPut_WritesBothTiers(t *testing.T) {
	rdb := testRedis(t)
	durable := newMockDurableStore()
	c := New(rdb, durable)

	c.Put(context.Background(), Key("abc"), prompt.Monthly, testResult(), []byte(`{"sun_sign":"Gemini"}`))

	if durable.puts != 1 {
		t.Errorf("Expected 1 durable write, got %d", durable.puts)
	}
	if err := rdb.Get(context.Background(), c.redisKey(Key("abc"), prompt.Monthly)).Err(); err != nil {
		t.Errorf("Expected fast-tier entry, got %v", err)
	}
}

func TestErrorsAreAbsorbed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := newMockDurableStore()
	durable.getErr = errors.New("db down")
	durable.putErr = errors.New("db down")
	mr.Close() // fast tier down too

	c := New(rdb, durable)

	// Neither call may panic or surface an error.
	c.Put(context.Background(), Key("abc"), prompt.Monthly, testResult(), nil)
	if res := c.Get(context.Background(), Key("abc"), prompt.Monthly); res != nil {
		t.Error("Expected miss when both tiers fail")
	}
}

func TestGet_FastTierExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, nil)

	c.Put(context.Background(), Key("abc"), prompt.Monthly, testResult(), nil)
	mr.FastForward(fastTTL + time.Minute)

	if res := c.Get(context.Background(), Key("abc"), prompt.Monthly); res != nil {
		t.Error("Expected fast-tier entry to expire")
	}
}
