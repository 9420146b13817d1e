package models

import "encoding/json"

// SignalType is the event name carried in the "type" field of every frame
type SignalType string

const (
	// Client to server
	SignalTypeCreateRoom SignalType = "create-room"
	SignalTypeJoinRoom   SignalType = "join-room"
	SignalTypeLeaveRoom  SignalType = "leave-room"

	// Server to client
	SignalTypeWelcome     SignalType = "welcome"
	SignalTypeRoomCreated SignalType = "room-created"
	SignalTypeRoomJoined  SignalType = "room-joined"
	SignalTypePeerJoined  SignalType = "peer-joined"
	SignalTypePeerLeft    SignalType = "peer-left"
	SignalTypeError       SignalType = "error"

	// Relayed in both directions
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
)

// IsNegotiation reports whether t is relayed verbatim between peers.
func (t SignalType) IsNegotiation() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate:
		return true
	}
	return false
}

// SignalMessage is a single signaling frame
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	RoomCode  string          `json:"roomCode,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the negotiation payload matching the message type.
func (m SignalMessage) Payload() json.RawMessage {
	switch m.Type {
	case SignalTypeOffer:
		return m.Offer
	case SignalTypeAnswer:
		return m.Answer
	case SignalTypeICECandidate:
		return m.Candidate
	}
	return nil
}

// ErrorMessage builds an error frame
func ErrorMessage(text string) SignalMessage {
	return SignalMessage{Type: SignalTypeError, Message: text}
}
