// Package defcache provides a read-through cache for objective and tree
// definitions. Definitions change rarely but are read on every evaluated
// utterance, so the cache fronts the store with short-TTL Redis entries.
// The cache degrades to direct store reads when Redis is unavailable: a
// cache failure is logged, never surfaced.
package defcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds staleness after a definition update.
const DefaultTTL = 5 * time.Minute

const (
	objectiveKeyPrefix = "objectivepipe:objective:"
	treeKeyPrefix      = "objectivepipe:tree:"

	// missSentinel marks a confirmed-absent definition so repeated lookups
	// for unknown ids do not hammer the store.
	missSentinel = "__miss__"
)

// Cache is a read-through definition cache over a backing store. A nil
// Redis client disables caching entirely; every read goes to the store.
type Cache struct {
	store store.Store
	rdb   *redis.Client
	ttl   time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default cache entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// New creates a definition cache over the given store. Pass a nil client
// to run without Redis.
func New(s store.Store, rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{store: s, rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("defcache.New", "redisEnabled", rdb != nil, "ttl", c.ttl)
	return c
}

// GetObjective returns the objective definition, or nil when unknown.
func (c *Cache) GetObjective(ctx context.Context, id string) (*models.Objective, error) {
	key := objectiveKeyPrefix + id
	if raw, ok := c.lookup(ctx, key); ok {
		if raw == missSentinel {
			return nil, nil
		}
		var obj models.Objective
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return &obj, nil
		}
		slog.Warn("defcache: corrupt objective entry, falling through", "key", key)
	}

	obj, err := c.store.GetObjective(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load objective %s: %w", id, err)
	}
	c.fill(ctx, key, obj)
	return obj, nil
}

// GetTree returns the tree definition, or nil when unknown.
func (c *Cache) GetTree(ctx context.Context, id string) (*models.ConversationTree, error) {
	key := treeKeyPrefix + id
	if raw, ok := c.lookup(ctx, key); ok {
		if raw == missSentinel {
			return nil, nil
		}
		var tree models.ConversationTree
		if err := json.Unmarshal([]byte(raw), &tree); err == nil {
			return &tree, nil
		}
		slog.Warn("defcache: corrupt tree entry, falling through", "key", key)
	}

	tree, err := c.store.GetTree(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree %s: %w", id, err)
	}
	c.fill(ctx, key, tree)
	return tree, nil
}

// InvalidateObjective drops a cached objective after an update.
func (c *Cache) InvalidateObjective(ctx context.Context, id string) {
	c.invalidate(ctx, objectiveKeyPrefix+id)
}

// InvalidateTree drops a cached tree after an update.
func (c *Cache) InvalidateTree(ctx context.Context, id string) {
	c.invalidate(ctx, treeKeyPrefix+id)
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.Warn("defcache: redis get failed", "error", err, "key", key)
		return "", false
	}
	return raw, true
}

// fill writes a cache entry for the loaded value; nil values are recorded
// as misses. Best effort only.
func (c *Cache) fill(ctx context.Context, key string, value any) {
	if c.rdb == nil {
		return
	}
	payload := missSentinel
	if value != nil && !isNilPointer(value) {
		data, err := json.Marshal(value)
		if err != nil {
			slog.Warn("defcache: marshal failed", "error", err, "key", key)
			return
		}
		payload = string(data)
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		slog.Warn("defcache: redis set failed", "error", err, "key", key)
	}
}

func (c *Cache) invalidate(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("defcache: redis del failed", "error", err, "key", key)
	}
}

// isNilPointer reports whether a non-nil interface wraps a nil typed pointer.
func isNilPointer(value any) bool {
	switch v := value.(type) {
	case *models.Objective:
		return v == nil
	case *models.ConversationTree:
		return v == nil
	default:
		return false
	}
}
