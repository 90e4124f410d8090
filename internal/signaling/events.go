package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

// Event is anything the hub delivers to this client
type Event interface{}

type ExistingMembers struct {
	Room    string
	Members []string
}

type PresenceAdded struct {
	Room          string
	ParticipantID string
}

type PresenceRemoved struct {
	Room          string
	ParticipantID string
}

type OfferReceived struct {
	From  string
	Offer webrtc.SessionDescription
}

type AnswerReceived struct {
	From   string
	Answer webrtc.SessionDescription
}

type CandidateReceived struct {
	From      string
	Candidate webrtc.ICECandidateInit
}

type ControlReceived struct {
	From    string
	Kind    string
	Payload json.RawMessage
}

type ChatReceived struct {
	From    string
	Payload json.RawMessage
}

// ErrorReceived is the hub rejecting one of our requests
type ErrorReceived struct {
	Code    int
	Message string
}

// Disconnected is the last event a client publishes
type Disconnected struct {
	Err error
}
