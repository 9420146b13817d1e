package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/screenshare-signaling/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

const errTextMalformed = "Malformed event"

// Conn is one client websocket bound to a Session.
type Conn struct {
	id      string
	ws      *websocket.Conn
	relay   *Relay
	session *Session
	logger  *slog.Logger

	outbox    chan []byte
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

func (r *Relay) newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		relay:    r,
		session:  NewSession(id, r.registry, r.directory),
		logger:   r.logger.With("peer", id),
		outbox:   make(chan []byte, r.sendBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// ID returns the connection identity shared with other peers.
func (c *Conn) ID() string { return c.id }

// Close stops the connection. Disconnect handling runs on the read goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) send(data []byte) {
	select {
	case c.outbox <- data:
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

func (c *Conn) readPump() {
	defer c.disconnect()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket closed", "error", err)
			}
			return
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("malformed event", "error", err)
			c.relay.dispatch(c.id, c.session.reply(models.ErrorMessage(errTextMalformed)))
			continue
		}

		c.handle(msg)

		if state, _ := c.session.State(); state == StateClosed {
			return
		}
	}
}

// handle runs one transition. A panic is confined to this event.
func (c *Conn) handle(msg models.SignalMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("event handler panic", "type", msg.Type, "panic", fmt.Sprint(rec))
			c.relay.dispatch(c.id, c.session.reply(models.ErrorMessage(errTextInternal)))
		}
	}()

	c.logger.Debug("inbound event", "type", msg.Type)
	c.relay.dispatch(c.id, c.session.Handle(msg))
}

// disconnect runs exactly once per connection, after its last inbound event.
func (c *Conn) disconnect() {
	defer close(c.finished)

	out := c.session.Close()
	c.relay.remove(c.id)
	c.relay.dispatch(c.id, out)
	c.Close()

	c.logger.Info("peer disconnected")
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
