package relay

import (
	"errors"
	"sync"

	"github.com/mossy-p/screenshare-signaling/internal/models"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
)

// State is the lifecycle stage of one connection.
type State int

const (
	StateUnbound State = iota
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateInRoom:
		return "in-room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Error texts sent to clients.
const (
	errTextRoomNotFound   = "Room not found"
	errTextNoCode         = "Could not allocate a room code"
	errTextAlreadyInRoom  = "Already in a room"
	errTextMissingCode    = "roomCode is required"
	errTextMissingPayload = "Payload is required"
	errTextUnknownEvent   = "Unknown event type"
	errTextInternal       = "Internal error"
)

// Outbound is a message addressed to a set of connections.
type Outbound struct {
	To      []string
	Message models.SignalMessage
}

// Directory receives room membership changes. Implementations must not block.
type Directory interface {
	RoomCreated(code, hostID string)
	MemberJoined(code, connID string)
	MemberLeft(code, connID string, closed bool)
}

// Session is the signaling state machine of one connection. It talks to the
// registry and returns the messages to deliver; it never touches a transport.
type Session struct {
	id        string
	registry  *registry.Registry
	directory Directory

	mu    sync.Mutex
	state State
	room  string
}

// NewSession creates an unbound session for connection id.
func NewSession(id string, reg *registry.Registry, dir Directory) *Session {
	return &Session{
		id:        id,
		registry:  reg,
		directory: dir,
	}
}

func (s *Session) ID() string { return s.id }

// State returns the current state and bound room code.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.room
}

// Handle applies one inbound event and returns what must be delivered.
func (s *Session) Handle(msg models.SignalMessage) []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if s.state == StateUnbound {
		defer s.rollbackOnPanic()
	}

	switch {
	case msg.Type == models.SignalTypeCreateRoom:
		return s.createRoom()
	case msg.Type == models.SignalTypeJoinRoom:
		return s.joinRoom(msg.RoomCode)
	case msg.Type == models.SignalTypeLeaveRoom:
		return s.close()
	case msg.Type.IsNegotiation():
		return s.relay(msg)
	default:
		return s.reply(models.ErrorMessage(errTextUnknownEvent))
	}
}

// rollbackOnPanic undoes a create or join that panicked after the registry
// accepted it, so the connection is unbound again and holds no room. The panic
// is re-raised for the caller to report.
func (s *Session) rollbackOnPanic() {
	rec := recover()
	if rec == nil {
		return
	}
	if s.state != StateClosed {
		s.registry.Leave(s.id)
		s.state = StateUnbound
		s.room = ""
	}
	panic(rec)
}

// Close moves the session to Closed and removes it from its room. Only the
// first call has an effect.
func (s *Session) Close() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *Session) close() []Outbound {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.room = ""

	res, ok := s.registry.Leave(s.id)
	if !ok {
		return nil
	}
	if s.directory != nil {
		s.directory.MemberLeft(res.Code, s.id, res.Closed)
	}
	if len(res.Remaining) == 0 {
		return nil
	}
	return []Outbound{{
		To:      res.Remaining,
		Message: models.SignalMessage{Type: models.SignalTypePeerLeft, PeerID: s.id},
	}}
}

func (s *Session) createRoom() []Outbound {
	if s.state != StateUnbound {
		return s.reply(models.ErrorMessage(errTextAlreadyInRoom))
	}

	code, err := s.registry.Create(s.id)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyInRoom) {
			return s.reply(models.ErrorMessage(errTextAlreadyInRoom))
		}
		return s.reply(models.ErrorMessage(errTextNoCode))
	}

	s.state = StateInRoom
	s.room = code
	if s.directory != nil {
		s.directory.RoomCreated(code, s.id)
	}
	return s.reply(models.SignalMessage{Type: models.SignalTypeRoomCreated, RoomCode: code})
}

func (s *Session) joinRoom(code string) []Outbound {
	code = registry.NormalizeCode(code)
	if code == "" {
		return s.reply(models.ErrorMessage(errTextMissingCode))
	}
	if s.state == StateInRoom && code != s.room {
		return s.reply(models.ErrorMessage(errTextAlreadyInRoom))
	}

	res, err := s.registry.Join(code, s.id)
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return s.reply(models.ErrorMessage(errTextRoomNotFound))
	case errors.Is(err, registry.ErrAlreadyInRoom):
		return s.reply(models.ErrorMessage(errTextAlreadyInRoom))
	case err != nil:
		return s.reply(models.ErrorMessage(errTextInternal))
	}

	s.state = StateInRoom
	s.room = res.Code

	out := s.reply(models.SignalMessage{Type: models.SignalTypeRoomJoined, RoomCode: res.Code})
	if res.AlreadyMember {
		return out
	}
	if s.directory != nil {
		s.directory.MemberJoined(res.Code, s.id)
	}
	if len(res.Peers) > 0 {
		out = append(out, Outbound{
			To:      res.Peers,
			Message: models.SignalMessage{Type: models.SignalTypePeerJoined, PeerID: s.id},
		})
	}
	return out
}

// relay forwards a negotiation payload to every other member of the bound room.
// Events from an unbound session are dropped.
func (s *Session) relay(msg models.SignalMessage) []Outbound {
	if s.state != StateInRoom {
		return nil
	}
	payload := msg.Payload()
	if len(payload) == 0 {
		return s.reply(models.ErrorMessage(errTextMissingPayload))
	}

	peers := s.registry.PeersOf(s.room, s.id)
	if len(peers) == 0 {
		return nil
	}

	fwd := models.SignalMessage{Type: msg.Type, PeerID: s.id}
	switch msg.Type {
	case models.SignalTypeOffer:
		fwd.Offer = payload
	case models.SignalTypeAnswer:
		fwd.Answer = payload
	case models.SignalTypeICECandidate:
		fwd.Candidate = payload
	}
	return []Outbound{{To: peers, Message: fwd}}
}

func (s *Session) reply(msg models.SignalMessage) []Outbound {
	return []Outbound{{To: []string{s.id}, Message: msg}}
}
