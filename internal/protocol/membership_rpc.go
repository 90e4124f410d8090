package protocol

import "encoding/json"

type JoinParams struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id"`
}

// JoinRpc asks the hub to bind the connection to a room under a participant id
type JoinRpc struct {
	jsonRpcHead
	Params JoinParams `json:"params"`
}

func NewJoinRpc(room, participantID string) *JoinRpc {
	return &JoinRpc{
		jsonRpcHead: newHead(JoinMethod),
		Params: JoinParams{
			Room:          room,
			ParticipantID: participantID,
		},
	}
}

func (r JoinRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type LeaveRpc struct {
	jsonRpcHead
}

func NewLeaveRpc() *LeaveRpc {
	return &LeaveRpc{jsonRpcHead: newHead(LeaveMethod)}
}

func (r LeaveRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type MembersParams struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// ExistingMembersRpc is the reply to a join. It never lists the joiner.
type ExistingMembersRpc struct {
	jsonRpcHead
	Params MembersParams `json:"params"`
}

func NewExistingMembersRpc(room string, members []string) *ExistingMembersRpc {
	if members == nil {
		members = make([]string, 0)
	}

	return &ExistingMembersRpc{
		jsonRpcHead: newHead(ExistingMembersMethod),
		Params: MembersParams{
			Room:    room,
			Members: members,
		},
	}
}

func (r ExistingMembersRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type PresenceParams struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id"`
}

// PresenceRpc is either presence_add or presence_remove
type PresenceRpc struct {
	jsonRpcHead
	Params PresenceParams `json:"params"`
}

func NewPresenceAddRpc(room, participantID string) *PresenceRpc {
	return newPresenceRpc(PresenceAddMethod, room, participantID)
}

func NewPresenceRemoveRpc(room, participantID string) *PresenceRpc {
	return newPresenceRpc(PresenceRemoveMethod, room, participantID)
}

func newPresenceRpc(method Method, room, participantID string) *PresenceRpc {
	return &PresenceRpc{
		jsonRpcHead: newHead(method),
		Params: PresenceParams{
			Room:          room,
			ParticipantID: participantID,
		},
	}
}

func (r PresenceRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
