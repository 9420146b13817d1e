// Package directory mirrors live rooms into Redis so operators and other
// instances can see which instance hosts a room. The in-memory registry stays
// authoritative; the mirror is eventually consistent.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "signal"
	defaultTTL       = 24 * time.Hour
	defaultQueueSize = 1024
	opTimeout        = 2 * time.Second
)

var ErrNotFound = errors.New("room not in directory")

type opKind int

const (
	opCreated opKind = iota
	opJoined
	opLeft
)

type op struct {
	kind   opKind
	code   string
	connID string
	closed bool
	at     time.Time
}

// Entry is a room as recorded in Redis.
type Entry struct {
	Code       string
	HostID     string
	InstanceID string
	CreatedAt  time.Time
	Members    []string
}

// Options configures a Mirror.
type Options struct {
	// Prefix namespaces every key (e.g. "signal").
	Prefix     string
	InstanceID string
	TTL        time.Duration
	QueueSize  int
	Logger     *slog.Logger
}

// Mirror applies membership changes to Redis from a single worker so writes
// land in the order they happened.
type Mirror struct {
	rdb      *redis.Client
	prefix   string
	instance string
	ttl      time.Duration
	ops      chan op
	logger   *slog.Logger

	// live holds the rooms this instance mirrors. Owned by the worker.
	live map[string]struct{}
}

// New builds a Mirror. Call Run to start applying changes.
func New(rdb *redis.Client, opts Options) *Mirror {
	prefix := strings.TrimSuffix(strings.TrimSpace(opts.Prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		rdb:      rdb,
		prefix:   prefix,
		instance: opts.InstanceID,
		ttl:      opts.TTL,
		ops:      make(chan op, opts.QueueSize),
		logger:   logger.With("component", "directory"),
		live:     make(map[string]struct{}),
	}
}

// InstanceID identifies this process in directory entries.
func (m *Mirror) InstanceID() string { return m.instance }

func (m *Mirror) RoomCreated(code, hostID string) {
	m.enqueue(op{kind: opCreated, code: code, connID: hostID, at: time.Now()})
}

func (m *Mirror) MemberJoined(code, connID string) {
	m.enqueue(op{kind: opJoined, code: code, connID: connID})
}

func (m *Mirror) MemberLeft(code, connID string, closed bool) {
	m.enqueue(op{kind: opLeft, code: code, connID: connID, closed: closed})
}

func (m *Mirror) enqueue(o op) {
	select {
	case m.ops <- o:
	default:
		m.logger.Warn("directory queue full, dropping update", "room", o.code, "peer", o.connID)
	}
}

// Run applies queued changes until ctx is cancelled. Live rooms have their
// TTL extended every half TTL so long-running rooms stay visible.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.refresh(ctx); err != nil {
				m.logger.Error("directory refresh failed", "rooms", len(m.live), "error", err)
			}
		case o := <-m.ops:
			opCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := m.apply(opCtx, o); err != nil {
				m.logger.Error("directory update failed", "room", o.code, "peer", o.connID, "error", err)
			}
			cancel()
		}
	}
}

func (m *Mirror) roomKey(code string) string  { return fmt.Sprintf("%s:room:%s", m.prefix, code) }
func (m *Mirror) peersKey(code string) string { return m.roomKey(code) + ":peers" }

func (m *Mirror) apply(ctx context.Context, o op) error {
	roomKey, peersKey := m.roomKey(o.code), m.peersKey(o.code)

	// A join can be queued behind the close of its room.
	if o.kind == opJoined {
		if _, ok := m.live[o.code]; !ok {
			return nil
		}
	}

	pipe := m.rdb.TxPipeline()

	switch o.kind {
	case opCreated:
		pipe.HSet(ctx, roomKey,
			"host", o.connID,
			"instance", m.instance,
			"createdAt", o.at.UTC().Format(time.RFC3339Nano))
		pipe.SAdd(ctx, peersKey, o.connID)
		pipe.Expire(ctx, roomKey, m.ttl)
		pipe.Expire(ctx, peersKey, m.ttl)
	case opJoined:
		pipe.SAdd(ctx, peersKey, o.connID)
		pipe.Expire(ctx, roomKey, m.ttl)
		pipe.Expire(ctx, peersKey, m.ttl)
	case opLeft:
		if o.closed {
			pipe.Del(ctx, roomKey, peersKey)
		} else {
			pipe.SRem(ctx, peersKey, o.connID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	switch {
	case o.kind == opCreated:
		m.live[o.code] = struct{}{}
	case o.kind == opLeft && o.closed:
		delete(m.live, o.code)
	}
	return nil
}

// refresh extends the TTL of every live room.
func (m *Mirror) refresh(ctx context.Context) error {
	if len(m.live) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := m.rdb.Pipeline()
	for code := range m.live {
		pipe.Expire(ctx, m.roomKey(code), m.ttl)
		pipe.Expire(ctx, m.peersKey(code), m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup reads a room entry.
func (m *Mirror) Lookup(ctx context.Context, code string) (Entry, error) {
	pipe := m.rdb.Pipeline()
	fields := pipe.HGetAll(ctx, m.roomKey(code))
	members := pipe.SMembers(ctx, m.peersKey(code))
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, fmt.Errorf("lookup room %s: %w", code, err)
	}

	vals := fields.Val()
	if len(vals) == 0 {
		return Entry{}, ErrNotFound
	}

	entry := Entry{
		Code:       code,
		HostID:     vals["host"],
		InstanceID: vals["instance"],
		Members:    members.Val(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["createdAt"]); err == nil {
		entry.CreatedAt = ts
	}
	return entry, nil
}

// Reset removes rooms left behind by a previous run of this instance, and
// member sets whose room hash no longer exists.
func (m *Mirror) Reset(ctx context.Context) error {
	iter := m.rdb.Scan(ctx, 0, m.prefix+":room:*", 100).Iterator()
	removed := 0
	for iter.Next(ctx) {
		key := iter.Val()
		if room, ok := strings.CutSuffix(key, ":peers"); ok {
			n, err := m.rdb.Exists(ctx, room).Result()
			if err != nil {
				return fmt.Errorf("check %s: %w", room, err)
			}
			if n == 0 {
				if err := m.rdb.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
				removed++
			}
			continue
		}
		owner, err := m.rdb.HGet(ctx, key, "instance").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read owner of %s: %w", key, err)
		}
		if owner != m.instance {
			continue
		}
		if err := m.rdb.Del(ctx, key, key+":peers").Err(); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if removed > 0 {
		m.logger.Info("removed stale rooms", "count", removed)
	}
	return nil
}
