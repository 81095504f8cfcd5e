package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astrelia/readings/internal/interpret"
	"github.com/astrelia/readings/internal/prompt"
)

const (
	fastTTL    = 24 * time.Hour
	durableTTL = 30 * 24 * time.Hour
)

// Key is the content hash identifying one generated interpretation.
type Key string

// ComputeKey hashes the normalized request fields. The rule version is part
// of the hash: bumping it invalidates every prior entry without a migration.
func ComputeKey(birthDate time.Time, birthTime, birthCity, gender string, rt prompt.ReadingType, variant prompt.Variant, ruleVersion string) Key {
	fields := []string{
		birthDate.Format("2006-01-02"),
		strings.TrimSpace(birthTime),
		strings.ToLower(strings.TrimSpace(birthCity)),
		strings.ToLower(strings.TrimSpace(gender)),
		string(rt),
		fmt.Sprintf("y=%d;m=%d;d=%d", variant.Year, variant.Month, variant.Day),
		strings.ToLower(strings.TrimSpace(variant.Question)),
		ruleVersion,
	}
	h := sha256.New()
	h.Write([]byte(strings.Join(fields, "|")))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Entry is a durable-tier row.
type Entry struct {
	Hash           string
	Type           prompt.ReadingType
	Interpretation []byte
	Chart          []byte
	ExpiresAt      time.Time
}

type DurableStore interface {
	Get(ctx context.Context, hash string, rt prompt.ReadingType, now time.Time) (*Entry, error)
	Upsert(ctx context.Context, entry *Entry) error
}

// Cache is the two-tier result cache. Neither Get nor Put ever fails the
// caller; internal errors are logged and absorbed.
type Cache struct {
	rdb     *redis.Client
	durable DurableStore
}

func New(rdb *redis.Client, durable DurableStore) *Cache {
	return &Cache{rdb: rdb, durable: durable}
}

func (c *Cache) redisKey(key Key, rt prompt.ReadingType) string {
	return fmt.Sprintf("reading:cache:%s:%s", rt, key)
}

// Get checks the fast tier, then the durable tier. A durable hit
// opportunistically repopulates the fast tier before returning.
func (c *Cache) Get(ctx context.Context, key Key, rt prompt.ReadingType) *interpret.Result {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, c.redisKey(key, rt)).Bytes()
		if err == nil {
			var res interpret.Result
			if err := json.Unmarshal(data, &res); err == nil {
				return &res
			}
			log.Printf("cache: corrupt fast-tier entry for %s: dropping", key)
			_ = c.rdb.Del(ctx, c.redisKey(key, rt)).Err()
		} else if err != redis.Nil {
			log.Printf("cache: fast-tier read failed: %v", err)
		}
	}

	if c.durable == nil {
		return nil
	}
	entry, err := c.durable.Get(ctx, string(key), rt, time.Now())
	if err != nil {
		log.Printf("cache: durable-tier read failed: %v", err)
		return nil
	}
	if entry == nil {
		return nil
	}

	var res interpret.Result
	if err := json.Unmarshal(entry.Interpretation, &res); err != nil {
		log.Printf("cache: corrupt durable-tier entry for %s: %v", key, err)
		return nil
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.redisKey(key, rt), entry.Interpretation, fastTTL).Err(); err != nil {
			log.Printf("cache: fast-tier repopulate failed: %v", err)
		}
	}
	return &res
}

// Put writes both tiers unconditionally.
func (c *Cache) Put(ctx context.Context, key Key, rt prompt.ReadingType, res *interpret.Result, chartSnapshot []byte) {
	data, err := json.Marshal(res)
	if err != nil {
		log.Printf("cache: marshal failed: %v", err)
		return
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.redisKey(key, rt), data, fastTTL).Err(); err != nil {
			log.Printf("cache: fast-tier write failed: %v", err)
		}
	}

	if c.durable != nil {
		entry := &Entry{
			Hash:           string(key),
			Type:           rt,
			Interpretation: data,
			Chart:          chartSnapshot,
			ExpiresAt:      time.Now().Add(durableTTL),
		}
		if err := c.durable.Upsert(ctx, entry); err != nil {
			log.Printf("cache: durable-tier write failed: %v", err)
		}
	}
}
