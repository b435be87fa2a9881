package utils

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	balanceKeyPrefix = "loyalty:balance:"
	// Default cache ttl when none is configured
	defaultCacheTTL = 10 * time.Minute
	cacheOpTimeout  = 2 * time.Second
)

// RedisBalanceCache keeps account balances in Redis. The ledger stays the
// source of truth; every miss or error falls back to the database.
type RedisBalanceCache struct {
	rc  *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

// NewRedisBalanceCache returns nil when rc is nil so callers can pass the
// result straight into the engine options.
func NewRedisBalanceCache(rc *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *RedisBalanceCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisBalanceCache{rc: rc, ttl: ttl, log: log}
}

func balanceKey(userID uint) string {
	return balanceKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// GetBalance returns the cached balance for userID with the account version
// it was computed at. Values are stored as "<version>:<balance>".
func (c *RedisBalanceCache) GetBalance(ctx context.Context, userID uint) (int64, int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	raw, err := c.rc.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debugw("balance cache get failed", "user_id", userID, "error", err)
		}
		return 0, 0, false
	}
	balance, version, ok := decodeBalance(raw)
	if !ok {
		c.log.Debugw("balance cache value unreadable", "user_id", userID, "value", raw)
	}
	return balance, version, ok
}

// SetBalance stores balance at version with the configured ttl.
func (c *RedisBalanceCache) SetBalance(ctx context.Context, userID uint, balance, version int64) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, balanceKey(userID), encodeBalance(balance, version), c.ttl).Err(); err != nil {
		c.log.Warnw("balance cache set failed", "user_id", userID, "error", err)
	}
}

func encodeBalance(balance, version int64) string {
	return strconv.FormatInt(version, 10) + ":" + strconv.FormatInt(balance, 10)
}

func decodeBalance(raw string) (balance, version int64, ok bool) {
	v, b, found := strings.Cut(raw, ":")
	if !found {
		return 0, 0, false
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	balance, err = strconv.ParseInt(b, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return balance, version, true
}

// Invalidate drops the cached balance after a ledger write.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID uint) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rc.Del(ctx, balanceKey(userID)).Err(); err != nil {
		c.log.Warnw("balance cache invalidate failed", "user_id", userID, "error", err)
	}
}

// InvalidateByPrefix deletes keys that match the given prefix using SCAN.
// Used on startup to drop balances cached by a previous deployment.
func InvalidateByPrefix(ctx context.Context, rc *redis.Client, prefix string) int {
	if rc == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var (
		cursor  uint64
		removed int
	)
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			break
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err == nil {
				removed += len(keys)
			}
		}
		if cursor == 0 {
			break
		}
	}
	return removed
}

// FlushBalances clears every cached balance.
func FlushBalances(ctx context.Context, rc *redis.Client) int {
	return InvalidateByPrefix(ctx, rc, balanceKeyPrefix)
}
