// Package registry is the authoritative in-memory store of live rooms and their members.
package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// CodeLength is the number of characters in a room code.
	CodeLength = 7

	codeChars       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	maxCodeAttempts = 16
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyInRoom      = errors.New("connection already in a room")
	ErrCodeSpaceExhausted = errors.New("no free room code")
)

// CodeGenerator produces candidate room codes. Uniqueness is checked by the registry.
type CodeGenerator func() (string, error)

type room struct {
	code      string
	hostID    string
	members   map[string]struct{}
	createdAt time.Time
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	Code      string
	HostID    string
	Members   []string
	CreatedAt time.Time
}

// JoinResult describes a successful join.
type JoinResult struct {
	Code string
	// Peers are the members present before the join, excluding the joiner.
	Peers []string
	// AlreadyMember is set when the connection was in the room already.
	AlreadyMember bool
}

// LeaveResult describes a membership removal.
type LeaveResult struct {
	Code      string
	Remaining []string
	// Closed is set when the room was deleted because it became empty.
	Closed bool
}

// Registry maps room codes to members. All operations are serialized by one mutex
// and keep a reverse index from connection id to room code.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	byMember map[string]string
	generate CodeGenerator
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCodeGenerator replaces the random code generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(r *Registry) {
		r.generate = gen
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*room),
		byMember: make(map[string]string),
		generate: GenerateCode,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeCode trims and upper-cases a client supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create allocates a fresh code and a room whose only member is hostID.
func (r *Registry) Create(hostID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMember[hostID]; ok {
		return "", ErrAlreadyInRoom
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code = NormalizeCode(code)
		if code == "" {
			continue
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}

		r.rooms[code] = &room{
			code:      code,
			hostID:    hostID,
			members:   map[string]struct{}{hostID: {}},
			createdAt: r.now(),
		}
		r.byMember[hostID] = code
		return code, nil
	}

	return "", ErrCodeSpaceExhausted
}

// Join adds connID to the room identified by code. It never creates a room.
func (r *Registry) Join(code, connID string) (JoinResult, error) {
	code = NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}

	if current, in := r.byMember[connID]; in {
		if current != code {
			return JoinResult{}, ErrAlreadyInRoom
		}
		return JoinResult{Code: code, Peers: rm.peers(connID), AlreadyMember: true}, nil
	}

	peers := rm.peers(connID)
	rm.members[connID] = struct{}{}
	r.byMember[connID] = code
	return JoinResult{Code: code, Peers: peers}, nil
}

// Leave removes connID from its room, deleting the room when it empties.
// ok is false when the connection was not in any room.
func (r *Registry) Leave(connID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, in := r.byMember[connID]
	if !in {
		return LeaveResult{}, false
	}
	delete(r.byMember, connID)

	rm, exists := r.rooms[code]
	if !exists {
		return LeaveResult{Code: code, Closed: true}, true
	}

	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(r.rooms, code)
		return LeaveResult{Code: code, Closed: true}, true
	}
	return LeaveResult{Code: code, Remaining: rm.peers("")}, true
}

// PeersOf returns the members of code other than excluding.
func (r *Registry) PeersOf(code, excluding string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[NormalizeCode(code)]
	if !ok {
		return nil
	}
	return rm.peers(excluding)
}

// RoomOf returns the code of the room connID belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.byMember[connID]
	return code, ok
}

// Lookup returns a snapshot of the room identified by code.
func (r *Registry) Lookup(code string) (RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[NormalizeCode(code)]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		Code:      rm.code,
		HostID:    rm.hostID,
		Members:   rm.peers(""),
		CreatedAt: rm.createdAt,
	}, true
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// peers must be called with the registry lock held.
func (rm *room) peers(excluding string) []string {
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if id != excluding {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GenerateCode returns a random room code
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}
