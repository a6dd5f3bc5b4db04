package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/wardAuth/permission"
	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Snapshot is the cacheable form of Grants.
type Snapshot struct {
	Roles       []permission.Role `cbor:"1,keyasint"`
	Permissions []string          `cbor:"2,keyasint"`
}

// Cache stores grant snapshots for a short time.
type Cache interface {
	Get(ctx context.Context, userID string) (Snapshot, bool, error)
	Set(ctx context.Context, userID string, s Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}

// ErrCacheUnavailable wraps Redis failures in RedisCache.
var ErrCacheUnavailable = errors.New("grant cache unavailable")

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rbac: CBOR encoder initialization failed: " + err.Error())
	}
	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("rbac: CBOR decoder initialization failed: " + err.Error())
	}
}

// RedisCache keeps CBOR-encoded snapshots at <prefix>:<userID>.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCache returns a cache using keys under prefix.
func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "wg"
	}
	return &RedisCache{redis: rdb, prefix: prefix}
}

func (c *RedisCache) key(userID string) string { return c.prefix + ":" + userID }

// Get implements Cache. A corrupt entry is dropped and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, userID string) (Snapshot, bool, error) {
	data, err := c.redis.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	var s Snapshot
	if err := snapshotDecMode.Unmarshal(data, &s); err != nil {
		_ = c.redis.Del(ctx, c.key(userID)).Err()
		return Snapshot{}, false, nil
	}
	return s, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, userID string, s Snapshot, ttl time.Duration) error {
	data, err := snapshotEncMode.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.redis.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
