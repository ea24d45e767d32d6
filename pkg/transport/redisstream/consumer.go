package redisstream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-logr/logr"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/model"
	"github.com/logflow/bxes/pkg/stream"
)

// Handler receives each decoded trace variant.
type Handler func(ctx context.Context, v model.TraceVariant) error

// Consumer reads records from a stream through a consumer group.
//
// Stream-scoped records must be decoded in order, so a stream-scoped group
// must have exactly one consumer. The consumer follows one producer session
// at a time: an entry opening a new session (pool base zero) resets the
// decoder, an entry continuing a session it has not read from the start or
// building on records it never saw is a ParseError.
type Consumer struct {
	client  Client
	cfg     Config
	scope   stream.PoolScope
	version uint32
	reader  *stream.RecordReader
	session string
	log     logr.Logger

	handled int
	skipped int
}

// NewConsumer creates a consumer expecting records of the given scope and
// version.
func NewConsumer(client Client, cfg Config, scope stream.PoolScope, version uint32, log logr.Logger) *Consumer {
	return &Consumer{
		client:  client,
		cfg:     cfg,
		scope:   scope,
		version: version,
		reader:  stream.NewRecordReader(scope),
		log:     log.WithValues("stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer),
	}
}

// Handled returns the number of variants passed to the handler.
func (c *Consumer) Handled() int { return c.handled }

// Skipped returns the number of undecodable record-scoped entries that were
// acknowledged without being handled.
func (c *Consumer) Skipped() int { return c.skipped }

// Run consumes until ctx is done or an entry cannot be handled.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.client.CreateGroup(ctx, c.cfg.Stream, c.cfg.Group); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Poll performs one read and handles what it returned. Entries are
// acknowledged one by one after their handler returns.
func (c *Consumer) Poll(ctx context.Context, h Handler) (int, error) {
	msgs, err := c.client.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.Batch, c.cfg.Block)
	if err != nil {
		return 0, err
	}

	for i, m := range msgs {
		if err := c.handle(ctx, m, h); err != nil {
			return i, err
		}
		if err := c.client.Ack(ctx, c.cfg.Stream, c.cfg.Group, m.ID); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

func (c *Consumer) handle(ctx context.Context, m Message, h Handler) error {
	e, err := parseEntry(m)
	if err != nil {
		return err
	}
	if e.version != c.version {
		return &bxerrors.VersionMismatchError{Expected: c.version, Found: e.version, File: c.cfg.Stream + "/" + m.ID}
	}
	if e.scope != c.scope {
		return fmt.Errorf("entry %s has pool scope %s, consumer expects %s", m.ID, e.scope, c.scope)
	}

	if c.scope == stream.ScopeStream && e.session != c.session {
		if e.record.Base != (stream.PoolBase{}) {
			return fmt.Errorf("entry %s: %w", m.ID, bxerrors.NewParseError(0,
				"record continues session %s, which this consumer has not read from its first record", e.session))
		}
		c.log.Info("following new session", "session", e.session, "id", m.ID)
		c.reader.Reset()
		c.session = e.session
	}

	v, err := c.reader.DecodeRecord(e.record)
	if err != nil {
		if c.scope == stream.ScopeRecord {
			c.log.Error(err, "skipping undecodable record", "id", m.ID)
			c.skipped++
			return nil
		}
		return fmt.Errorf("entry %s: %w", m.ID, err)
	}

	if err := h(ctx, v); err != nil {
		return err
	}
	c.handled++
	c.log.V(1).Info("handled record", "id", m.ID, "events", len(v.Events), "count", v.Count)
	return nil
}

// entry is a parsed stream entry.
type entry struct {
	record  stream.Record
	version uint32
	scope   stream.PoolScope
	session string
}

func parseEntry(m Message) (entry, error) {
	var e entry

	record, ok := field(m.Values, FieldRecord)
	if !ok {
		return e, fmt.Errorf("entry %s has no %s field", m.ID, FieldRecord)
	}
	e.record.Data = record

	version, err := uintField(m, FieldVersion)
	if err != nil {
		return e, err
	}
	e.version = version

	s, _ := field(m.Values, FieldScope)
	if e.scope, err = stream.ParsePoolScope(string(s)); err != nil {
		return e, fmt.Errorf("entry %s: %w", m.ID, err)
	}
	if e.scope == stream.ScopeRecord {
		return e, nil
	}

	session, ok := field(m.Values, FieldSession)
	if !ok || len(session) == 0 {
		return e, fmt.Errorf("entry %s has no %s field", m.ID, FieldSession)
	}
	e.session = string(session)
	if e.record.Base.Values, err = uintField(m, FieldBaseValues); err != nil {
		return e, err
	}
	if e.record.Base.Pairs, err = uintField(m, FieldBasePairs); err != nil {
		return e, err
	}
	return e, nil
}

func uintField(m Message, name string) (uint32, error) {
	b, ok := field(m.Values, name)
	if !ok {
		return 0, fmt.Errorf("entry %s has no %s field", m.ID, name)
	}
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("entry %s: invalid %s: %w", m.ID, name, err)
	}
	return uint32(n), nil
}

// field returns a stream field as bytes. Redis returns strings; in-process
// clients may hand back the []byte that was written.
func field(values map[string]any, name string) ([]byte, bool) {
	switch v := values[name].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
