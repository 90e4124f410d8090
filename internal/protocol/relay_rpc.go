package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

type RelayParams struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// RelayRpc carries a handshake payload from a client to the hub, addressed to one participant.
// The hub never looks into the payload.
type RelayRpc struct {
	jsonRpcHead
	Params RelayParams `json:"params"`
}

func NewRelayRpc(method Method, target string, payload json.RawMessage) *RelayRpc {
	return &RelayRpc{
		jsonRpcHead: newHead(method),
		Params: RelayParams{
			Target:  target,
			Payload: payload,
		},
	}
}

func NewRelayOfferRpc(target string, offer webrtc.SessionDescription) (*RelayRpc, error) {
	return newRelayRpc(RelayOfferMethod, target, offer)
}

func NewRelayAnswerRpc(target string, answer webrtc.SessionDescription) (*RelayRpc, error) {
	return newRelayRpc(RelayAnswerMethod, target, answer)
}

func NewRelayICECandidateRpc(target string, candidate webrtc.ICECandidateInit) (*RelayRpc, error) {
	return newRelayRpc(RelayICECandidateMethod, target, candidate)
}

func newRelayRpc(method Method, target string, v interface{}) (*RelayRpc, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return NewRelayRpc(method, target, payload), nil
}

// Deliver rewrites the relay into the message the target receives, stamped with the sender id.
func (r RelayRpc) Deliver(from string) (*SignalRpc, error) {
	method, ok := deliveredMethods[r.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a relay method", ErrUnknownRpcType, r.Method)
	}

	return &SignalRpc{
		jsonRpcHead: newHead(method),
		Params: SignalParams{
			From:    from,
			Payload: r.Params.Payload,
		},
	}, nil
}

func (r RelayRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

var deliveredMethods = map[Method]Method{
	RelayOfferMethod:        OfferMethod,
	RelayAnswerMethod:       AnswerMethod,
	RelayICECandidateMethod: ICECandidateMethod,
}

type SignalParams struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// SignalRpc is an offer, answer or ice_candidate delivered by the hub
type SignalRpc struct {
	jsonRpcHead
	Params SignalParams `json:"params"`
}

// SessionDescription decodes an offer or answer payload and checks it matches the method.
func (r SignalRpc) SessionDescription() (webrtc.SessionDescription, error) {
	sdp := webrtc.SessionDescription{}

	var want webrtc.SDPType
	switch r.Method {
	case OfferMethod:
		want = webrtc.SDPTypeOffer
	case AnswerMethod:
		want = webrtc.SDPTypeAnswer
	default:
		return sdp, fmt.Errorf("%w: %q carries no session description", ErrMalformedRpc, r.Method)
	}

	if err := json.Unmarshal(r.Params.Payload, &sdp); err != nil {
		return sdp, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}
	if sdp.Type != want {
		return sdp, fmt.Errorf("%w: expected %s, got %s", ErrMalformedRpc, want, sdp.Type)
	}

	return sdp, nil
}

func (r SignalRpc) ICECandidate() (webrtc.ICECandidateInit, error) {
	candidate := webrtc.ICECandidateInit{}

	if r.Method != ICECandidateMethod {
		return candidate, fmt.Errorf("%w: %q carries no candidate", ErrMalformedRpc, r.Method)
	}
	if err := json.Unmarshal(r.Params.Payload, &candidate); err != nil {
		return candidate, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}

	return candidate, nil
}

func (r SignalRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
