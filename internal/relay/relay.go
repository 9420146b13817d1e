// Package relay terminates one websocket per client and routes signaling events
// between members of the same room.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/screenshare-signaling/internal/models"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
)

const (
	defaultSendTimeout = 2 * time.Second
	defaultSendBuffer  = 256
)

var (
	errPeerGone    = errors.New("peer disconnected")
	errSendTimeout = errors.New("send buffer full")
)

// Options configures a Relay.
type Options struct {
	Logger *slog.Logger
	// SendTimeout bounds how long a delivery may wait on a full peer buffer.
	SendTimeout time.Duration
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	Directory  Directory
}

// Relay owns every live connection and fans messages out between them.
type Relay struct {
	registry    *registry.Registry
	directory   Directory
	logger      *slog.Logger
	sendTimeout time.Duration
	sendBuffer  int

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a Relay backed by reg.
func New(reg *registry.Registry, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Relay{
		registry:    reg,
		directory:   opts.Directory,
		logger:      logger.With("component", "relay"),
		sendTimeout: opts.SendTimeout,
		sendBuffer:  opts.SendBuffer,
		conns:       make(map[string]*Conn),
	}
}

// Accept takes ownership of an upgraded websocket and starts serving it.
func (r *Relay) Accept(ws *websocket.Conn) *Conn {
	c := r.newConn(uuid.NewString(), ws)

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	r.logger.Info("peer connected", "peer", c.id, "remote", ws.RemoteAddr().String())
	c.send(mustMarshal(models.SignalMessage{Type: models.SignalTypeWelcome, PeerID: c.id}))

	go c.writePump()
	go c.readPump()
	return c
}

// Count returns the number of live connections.
func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every live connection and waits for their disconnect handling.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	for _, c := range conns {
		select {
		case <-c.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dispatch delivers every outbound message in order.
func (r *Relay) dispatch(from string, out []Outbound) {
	for _, o := range out {
		data, err := json.Marshal(o.Message)
		if err != nil {
			r.logger.Error("marshal message", "type", o.Message.Type, "error", err)
			continue
		}
		for _, to := range o.To {
			if err := r.deliver(to, data); err != nil {
				r.logger.Warn("dropped delivery",
					"from", from, "to", to, "type", o.Message.Type, "error", err)
			}
		}
	}
}

// deliver enqueues data for connection id without blocking longer than sendTimeout.
func (r *Relay) deliver(id string, data []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return errPeerGone
	}

	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return errPeerGone
	default:
	}

	timer := time.NewTimer(r.sendTimeout)
	defer timer.Stop()
	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return errPeerGone
	case <-timer.C:
		return errSendTimeout
	}
}

func (r *Relay) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func mustMarshal(msg models.SignalMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
