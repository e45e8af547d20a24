package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/viamet/roadwatch-backend/internal/logger"
)

// TileCache keeps rendered vector tiles in redis so repeated map loads skip
// the render path. The cache is optional: when REDIS_ADDR is unset the
// constructor returns an error and callers run without it.
type TileCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, tile []byte)
	InvalidateOrg(ctx context.Context, orgID string) error
	Close() error
}

type tileCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewTileCache(log *logger.Logger) (TileCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttl := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("TILE_CACHE_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("bad TILE_CACHE_TTL: %w", err)
		}
		ttl = parsed
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &tileCache{
		log: log.With("service", "RedisTileCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

// Get is best effort: a redis error is a miss, never a request failure.
func (tc *tileCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if tc == nil || tc.rdb == nil {
		return nil, false
	}
	raw, err := tc.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		tc.log.Warn("Tile cache read failed", "key", key, "error", err)
		return nil, false
	}
	return raw, true
}

func (tc *tileCache) Set(ctx context.Context, key string, tile []byte) {
	if tc == nil || tc.rdb == nil {
		return
	}
	if err := tc.rdb.Set(ctx, key, tile, tc.ttl).Err(); err != nil {
		tc.log.Warn("Tile cache write failed", "key", key, "error", err)
	}
}

// InvalidateOrg drops every cached tile for one org, used after a geometry
// reload or bulk rating change.
func (tc *tileCache) InvalidateOrg(ctx context.Context, orgID string) error {
	if tc == nil || tc.rdb == nil {
		return nil
	}
	var cursor uint64
	pattern := "tile:" + orgID + ":*"
	for {
		keys, next, err := tc.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("tile cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := tc.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("tile cache del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (tc *tileCache) Close() error {
	if tc == nil || tc.rdb == nil {
		return nil
	}
	return tc.rdb.Close()
}
