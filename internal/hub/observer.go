package hub

import "time"

type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
)

type PresenceEvent struct {
	Room          string       `json:"room"`
	ParticipantID string       `json:"participant_id"`
	Kind          PresenceKind `json:"kind"`
	At            time.Time    `json:"at"`
}

// Observer is told about every membership change, in room order. It is called with the room locked
// and must not block.
type Observer interface {
	OnPresence(event PresenceEvent)
}

type nopObserver struct{}

func (nopObserver) OnPresence(PresenceEvent) {}
