package protocol

import "encoding/json"

const (
	VideoToggleControl = "video-toggle"
	AudioToggleControl = "audio-toggle"
)

type ControlParams struct {
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ControlRpc is broadcast_control when sent by a client and control when delivered by the hub
type ControlRpc struct {
	jsonRpcHead
	Params ControlParams `json:"params"`
}

func NewBroadcastControlRpc(room, kind string, payload json.RawMessage) *ControlRpc {
	return &ControlRpc{
		jsonRpcHead: newHead(BroadcastControlMethod),
		Params: ControlParams{
			Room:    room,
			Kind:    kind,
			Payload: payload,
		},
	}
}

// Deliver stamps the broadcast with the sender id
func (r ControlRpc) Deliver(from string) *ControlRpc {
	return &ControlRpc{
		jsonRpcHead: newHead(ControlMethod),
		Params: ControlParams{
			From:    from,
			Kind:    r.Params.Kind,
			Payload: r.Params.Payload,
		},
	}
}

func (r ControlRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type ToggleParams struct {
	Enabled bool `json:"enabled"`
}

type ChatParams struct {
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ChatRpc is chat_message when sent by a client and chat when delivered by the hub.
// The payload is a text message or a reference to an uploaded file.
type ChatRpc struct {
	jsonRpcHead
	Params ChatParams `json:"params"`
}

func NewChatMessageRpc(room string, payload json.RawMessage) *ChatRpc {
	return &ChatRpc{
		jsonRpcHead: newHead(ChatMessageMethod),
		Params: ChatParams{
			Room:    room,
			Payload: payload,
		},
	}
}

func (r ChatRpc) Deliver(from string) *ChatRpc {
	return &ChatRpc{
		jsonRpcHead: newHead(ChatMethod),
		Params: ChatParams{
			From:    from,
			Payload: r.Params.Payload,
		},
	}
}

func (r ChatRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
