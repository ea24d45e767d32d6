package redisstream

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/logflow/bxes/pkg/stream"
)

var (
	// ErrStreamLocked is returned when another stream-scoped producer owns
	// the stream.
	ErrStreamLocked = errors.New("redisstream: stream has another writer")

	// ErrLockLost is returned by Send once a stream-scoped producer no longer
	// holds its writer lock.
	ErrLockLost = errors.New("redisstream: writer lock lost")

	// ErrTrimmedStream is returned for a stream-scoped producer configured
	// with MaxLen: trimming drops records later records depend on.
	ErrTrimmedStream = errors.New("redisstream: stream scope requires an untrimmed stream (MaxLen 0)")
)

var _ stream.Sink = (*Producer)(nil)

// Producer appends records to a stream. It implements stream.Sink.
type Producer struct {
	client  Client
	cfg     Config
	scope   stream.PoolScope
	version string

	// Stream scope only. The lock value doubles as the session id.
	lockKey   string
	lockValue string
	refreshed time.Time
	lost      bool
	now       func() time.Time

	sent int
}

// NewProducer creates a producer. Stream-scoped records depend on every
// earlier record, so a stream-scoped producer takes a lock on the stream for
// its lifetime and tags each entry with its session and pool base.
func NewProducer(ctx context.Context, client Client, cfg Config, scope stream.PoolScope, version uint32) (*Producer, error) {
	p := &Producer{
		client:  client,
		cfg:     cfg,
		scope:   scope,
		version: strconv.FormatUint(uint64(version), 10),
		now:     time.Now,
	}

	if scope == stream.ScopeStream {
		if cfg.MaxLen > 0 {
			return nil, ErrTrimmedStream
		}
		key, value := cfg.Stream+":writer", uuid.NewString()
		ok, err := client.Lock(ctx, key, value, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStreamLocked
		}
		p.lockKey, p.lockValue = key, value
		p.refreshed = p.now()
	}
	return p, nil
}

// Session returns the id stream-scoped entries are tagged with, empty in
// record scope.
func (p *Producer) Session() string { return p.lockValue }

// Send appends one record.
func (p *Producer) Send(ctx context.Context, rec stream.Record) error {
	values := map[string]any{
		FieldRecord:  rec.Data,
		FieldVersion: p.version,
		FieldScope:   p.scope.String(),
	}
	if p.scope == stream.ScopeStream {
		if err := p.keepLock(ctx); err != nil {
			return err
		}
		values[FieldSession] = p.lockValue
		values[FieldBaseValues] = strconv.FormatUint(uint64(rec.Base.Values), 10)
		values[FieldBasePairs] = strconv.FormatUint(uint64(rec.Base.Pairs), 10)
	}

	if _, err := p.client.Add(ctx, p.cfg.Stream, p.cfg.MaxLen, values); err != nil {
		return err
	}
	p.sent++
	return nil
}

// keepLock refreshes the writer lock once a third of its TTL has passed. A
// lock that expired and was taken over fails every later Send.
func (p *Producer) keepLock(ctx context.Context) error {
	if p.lost || p.lockKey == "" {
		return ErrLockLost
	}
	if p.cfg.LockTTL <= 0 {
		return nil
	}
	now := p.now()
	if now.Sub(p.refreshed) < p.cfg.LockTTL/3 {
		return nil
	}

	ok, err := p.client.Refresh(ctx, p.lockKey, p.lockValue, p.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		p.lost = true
		return ErrLockLost
	}
	p.refreshed = now
	return nil
}

// Sent returns the number of records appended.
func (p *Producer) Sent() int { return p.sent }

// Close releases the writer lock, if held.
func (p *Producer) Close(ctx context.Context) error {
	if p.lockKey == "" {
		return nil
	}
	err := p.client.Unlock(ctx, p.lockKey, p.lockValue)
	p.lockKey = ""
	return err
}
