package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection, used by the readiness probe
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func libraryKey(userID uuid.UUID) string {
	return fmt.Sprintf("library:%s", userID)
}

func libraryGenKey(userID uuid.UUID) string {
	return fmt.Sprintf("library:gen:%s", userID)
}

// setIfGeneration writes KEYS[2] only while KEYS[1] still holds ARGV[1].
// A missing generation counts as 0.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// LibraryGeneration returns the user's cache generation. Read it before
// loading the library from the store and hand it to SetLibrary.
func (c *Client) LibraryGeneration(ctx context.Context, userID uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, libraryGenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("library generation get failed: %w", err)
	}
	return gen, nil
}

// GetLibrary returns the cached purchased tracks of a user. The flag is false
// on a cache miss.
func (c *Client) GetLibrary(ctx context.Context, userID uuid.UUID) ([]models.Track, bool, error) {
	raw, err := c.rdb.Get(ctx, libraryKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("library cache get failed: %w", err)
	}

	var tracks []models.Track
	if err := json.Unmarshal(raw, &tracks); err != nil {
		return nil, false, fmt.Errorf("library cache entry corrupt: %w", err)
	}
	return tracks, true, nil
}

// SetLibrary caches the purchased tracks of a user, unless the library was
// invalidated since generation gen was read. The flag reports whether the
// entry was written.
func (c *Client) SetLibrary(ctx context.Context, userID uuid.UUID, gen int64, tracks []models.Track, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(tracks)
	if err != nil {
		return false, fmt.Errorf("failed to marshal library: %w", err)
	}

	written, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{libraryGenKey(userID), libraryKey(userID)},
		gen, raw, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("library cache set failed: %w", err)
	}
	return written == 1, nil
}

// InvalidateLibrary bumps the user's generation and drops the cached library,
// so a reader that loaded before the bump cannot write its stale result back.
func (c *Client) InvalidateLibrary(ctx context.Context, userID uuid.UUID) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, libraryGenKey(userID))
		pipe.Del(ctx, libraryKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("library cache invalidate failed: %w", err)
	}
	return nil
}
