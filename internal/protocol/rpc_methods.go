package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	JoinMethod            Method = "join"
	LeaveMethod           Method = "leave"
	ExistingMembersMethod Method = "existing_members"
	PresenceAddMethod     Method = "presence_add"
	PresenceRemoveMethod  Method = "presence_remove"

	RelayOfferMethod        Method = "relay_offer"
	RelayAnswerMethod       Method = "relay_answer"
	RelayICECandidateMethod Method = "relay_ice_candidate"

	OfferMethod        Method = "offer"
	AnswerMethod       Method = "answer"
	ICECandidateMethod Method = "ice_candidate"

	BroadcastControlMethod Method = "broadcast_control"
	ControlMethod          Method = "control"
	ChatMessageMethod      Method = "chat_message"
	ChatMethod             Method = "chat"

	ErrorMethod Method = "error"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

func newHead(method Method) jsonRpcHead {
	return jsonRpcHead{Version: jsonRpcVersion, Method: method}
}

func (h jsonRpcHead) GetMethod() Method {
	return h.Method
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// RpcFromReader decodes exactly one message. Decoding failures wrap ErrMalformedRpc.
func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}
	if rpc.Version != jsonRpcVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrMalformedRpc, rpc.Version)
	}

	switch rpc.Method {
	case JoinMethod:
		r := &JoinRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case LeaveMethod:
		return NewLeaveRpc(), nil
	case ExistingMembersMethod:
		r := &ExistingMembersRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case PresenceAddMethod, PresenceRemoveMethod:
		r := &PresenceRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case RelayOfferMethod, RelayAnswerMethod, RelayICECandidateMethod:
		r := &RelayRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case OfferMethod, AnswerMethod, ICECandidateMethod:
		r := &SignalRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case BroadcastControlMethod, ControlMethod:
		r := &ControlRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case ChatMessageMethod, ChatMethod:
		r := &ChatRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	case ErrorMethod:
		r := &ErrorRpc{jsonRpcHead: rpc.jsonRpcHead}
		return decoded(r, decodeParams(rpc.Params, &r.Params))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRpcType, rpc.Method)
	}
}

func decoded(r Rpc, err error) (Rpc, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

func decodeParams(raw json.RawMessage, params interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: params are required", ErrMalformedRpc)
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}
	return nil
}
