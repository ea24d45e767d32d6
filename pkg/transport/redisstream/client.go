// Package redisstream carries bxes stream records over Redis Streams: a
// Producer appends one entry per record, a Consumer reads them through a
// consumer group and acknowledges each record once it has been handled.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry field names.
const (
	FieldRecord  = "record"
	FieldVersion = "version"
	FieldScope   = "scope"

	// Stream-scoped entries only: the producer session and the pool base the
	// record builds on.
	FieldSession    = "session"
	FieldBaseValues = "base_values"
	FieldBasePairs  = "base_pairs"
)

// Config configures the Redis connection and stream.
type Config struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Stream is the stream key records are appended to
	Stream string

	// Group and Consumer identify the reader in its consumer group
	Group    string
	Consumer string

	// MaxLen caps the stream length with approximate trimming (0 = unbounded)
	MaxLen int64

	// Block is how long a read waits for new entries
	Block time.Duration

	// Batch is the maximum number of entries per read
	Batch int64

	// LockTTL bounds the single-writer lock held by stream-scoped producers.
	// The producer refreshes it while sending; zero means it never expires.
	LockTTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(address, stream string) Config {
	return Config{
		Address:      address,
		Stream:       stream,
		Group:        "bxes",
		Consumer:     "bxes-1",
		Block:        5 * time.Second,
		Batch:        64,
		LockTTL:      time.Minute,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Message is one stream entry.
type Message struct {
	ID     string
	Values map[string]any
}

// Client is the subset of Redis used by producers and consumers.
type Client interface {
	Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
	CreateGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Lock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, value string) error
	// Refresh extends key to ttl if it still holds value and reports whether
	// it did.
	Refresh(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}

// RedisClient implements Client on a go-redis connection.
type RedisClient struct {
	cfg    Config
	client *redis.Client
}

// Dial connects to Redis and verifies the connection.
func Dial(cfg Config) (*RedisClient, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		WriteTimeout: cfg.Timeout,
	}
	// Blocking reads must outlive the block interval.
	if cfg.Block > 0 {
		opts.ReadTimeout = cfg.Timeout + cfg.Block
	} else {
		opts.ReadTimeout = cfg.Timeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{cfg: cfg, client: client}, nil
}

// Add appends an entry with XADD.
func (c *RedisClient) Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// CreateGroup creates the consumer group, and the stream if needed. An
// existing group is not an error.
func (c *RedisClient) CreateGroup(ctx context.Context, stream, group string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create group %s: %w", group, err)
	}
	return nil
}

// ReadGroup reads new entries with XREADGROUP. It returns no messages and no
// error when the block interval passes without entries.
func (c *RedisClient) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, Message{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// Ack acknowledges entries with XACK.
func (c *RedisClient) Ack(ctx context.Context, stream, group string, ids ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %d entries: %w", len(ids), err)
	}
	return nil
}

// Lock acquires key with SET NX.
func (c *RedisClient) Lock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Unlock releases key if it still holds value.
func (c *RedisClient) Unlock(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return unlockScript.Run(ctx, c.client, []string{key}, value).Err()
}

var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Refresh extends key with PEXPIRE if it still holds value.
func (c *RedisClient) Refresh(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	n, err := refreshScript.Run(ctx, c.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	return n == 1, nil
}

// Ping checks the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
