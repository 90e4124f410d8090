package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/protocol"
	"github.com/isqad/livelook-mesh/internal/telemetry"
)

// Conn is a live transport session. Send must not block: the transport queues outgoing messages.
type Conn interface {
	ID() string
	Send(rpc protocol.Rpc) error
}

// Envelope builds the message room members receive, stamped with the sender's participant id
type Envelope func(from string) protocol.Rpc

type binding struct {
	room          *Room
	participantID string
}

type Option func(*Hub)

func WithObserver(observer Observer) Option {
	return func(h *Hub) {
		h.observer = observer
	}
}

// Hub owns rooms and connection bindings. The registry lock guards both tables; membership changes
// inside a room are serialized by that room's own lock.
type Hub struct {
	observer Observer

	lock     sync.Mutex
	rooms    map[string]*Room
	bindings map[string]binding
}

func New(options ...Option) *Hub {
	h := &Hub{
		observer: nopObserver{},
		rooms:    make(map[string]*Room),
		bindings: make(map[string]binding),
	}

	for _, option := range options {
		option(h)
	}

	return h
}

func (h *Hub) Join(conn Conn, roomKey, participantID string) error {
	if roomKey == "" {
		telemetry.Operation("join", telemetry.StatusError, "empty_room")
		return ErrEmptyRoomKey
	}
	if participantID == "" {
		telemetry.Operation("join", telemetry.StatusError, "empty_participant")
		return ErrEmptyParticipantID
	}

	if current, ok := h.binding(conn); ok {
		if current.room.Key() != roomKey || current.participantID != participantID {
			h.Leave(conn)
		}
	}

	for {
		room := h.roomFor(roomKey)
		displaced, ok := room.join(conn, participantID)
		if !ok {
			continue
		}

		h.lock.Lock()
		h.bindings[conn.ID()] = binding{room: room, participantID: participantID}
		// the displaced connection no longer holds a membership
		if displaced != nil {
			if old, bound := h.bindings[displaced.ID()]; bound && old.room == room && old.participantID == participantID {
				delete(h.bindings, displaced.ID())
			}
		}
		h.lock.Unlock()

		break
	}

	telemetry.Operation("join", telemetry.StatusSuccess, "")
	log.Info().
		Str("service", "hub").
		Str("conn_id", conn.ID()).
		Str("room", roomKey).
		Str("participant_id", participantID).
		Msg("participant joined")

	return nil
}

// Relay forwards a handshake payload to the connection bound to target in the caller's room. An absent
// target is not an error: the message is dropped.
func (h *Hub) Relay(conn Conn, method protocol.Method, target string, payload json.RawMessage) error {
	b, ok := h.binding(conn)
	if !ok {
		telemetry.Operation("relay", telemetry.StatusError, "not_joined")
		return ErrNotJoined
	}
	if target == "" {
		telemetry.Operation("relay", telemetry.StatusError, "empty_target")
		return ErrEmptyTarget
	}

	msg, err := protocol.NewRelayRpc(method, target, payload).Deliver(b.participantID)
	if err != nil {
		telemetry.Operation("relay", telemetry.StatusError, "unsupported_method")
		return ErrUnsupportedMethod
	}

	if !b.room.deliver(target, msg) {
		telemetry.Operation("relay", telemetry.StatusDropped, "target_unavailable")
		log.Debug().
			Str("service", "hub").
			Str("room", b.room.Key()).
			Str("from", b.participantID).
			Str("target", target).
			Str("method", string(method)).
			Msg("relay target is not in the room, dropped")
		return nil
	}

	telemetry.Operation("relay", telemetry.StatusSuccess, "")
	return nil
}

// BroadcastToRoom delivers to every member of the caller's room. roomKey may be empty; when given it
// must name the caller's room.
func (h *Hub) BroadcastToRoom(conn Conn, roomKey string, envelope Envelope, excludingSelf bool) error {
	b, ok := h.binding(conn)
	if !ok {
		telemetry.Operation("broadcast", telemetry.StatusError, "not_joined")
		return ErrNotJoined
	}
	if roomKey != "" && roomKey != b.room.Key() {
		telemetry.Operation("broadcast", telemetry.StatusError, "room_mismatch")
		return ErrRoomMismatch
	}

	except := ""
	if excludingSelf {
		except = conn.ID()
	}

	b.room.broadcast(envelope(b.participantID), except)
	telemetry.Operation("broadcast", telemetry.StatusSuccess, "")

	return nil
}

// Leave unbinds the connection and removes its member. Calling it twice, or before joining, is a no-op.
func (h *Hub) Leave(conn Conn) {
	h.lock.Lock()
	b, ok := h.bindings[conn.ID()]
	delete(h.bindings, conn.ID())
	h.lock.Unlock()

	if !ok {
		return
	}

	if b.room.leave(conn, b.participantID) {
		h.lock.Lock()
		if h.rooms[b.room.Key()] == b.room {
			delete(h.rooms, b.room.Key())
			telemetry.RoomDeleted()
		}
		h.lock.Unlock()
	}

	telemetry.Operation("leave", telemetry.StatusSuccess, "")
	log.Info().
		Str("service", "hub").
		Str("conn_id", conn.ID()).
		Str("room", b.room.Key()).
		Str("participant_id", b.participantID).
		Msg("participant left")
}

// Dispatch routes a decoded client message to the matching operation
func (h *Hub) Dispatch(conn Conn, rpc protocol.Rpc) error {
	switch r := rpc.(type) {
	case *protocol.JoinRpc:
		return h.Join(conn, r.Params.Room, r.Params.ParticipantID)
	case *protocol.LeaveRpc:
		h.Leave(conn)
		return nil
	case *protocol.RelayRpc:
		return h.Relay(conn, r.Method, r.Params.Target, r.Params.Payload)
	case *protocol.ControlRpc:
		if r.Method != protocol.BroadcastControlMethod {
			return ErrUnsupportedMethod
		}
		return h.BroadcastToRoom(conn, r.Params.Room, func(from string) protocol.Rpc {
			return r.Deliver(from)
		}, true)
	case *protocol.ChatRpc:
		if r.Method != protocol.ChatMessageMethod {
			return ErrUnsupportedMethod
		}
		return h.BroadcastToRoom(conn, r.Params.Room, func(from string) protocol.Rpc {
			return r.Deliver(from)
		}, false)
	default:
		return ErrUnsupportedMethod
	}
}

// Members of a room, sorted. Unknown rooms have no members.
func (h *Hub) Members(roomKey string) []string {
	h.lock.Lock()
	room, ok := h.rooms[roomKey]
	h.lock.Unlock()

	if !ok {
		return []string{}
	}

	return room.Members()
}

func (h *Hub) RoomCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.rooms)
}

// ConnectionCount is the number of connections bound to a room
func (h *Hub) ConnectionCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.bindings)
}

func (h *Hub) binding(conn Conn) (binding, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	b, ok := h.bindings[conn.ID()]
	return b, ok
}

// roomFor returns the live room for key, creating it when missing or when the stored one was closed
func (h *Hub) roomFor(key string) *Room {
	h.lock.Lock()
	defer h.lock.Unlock()

	room, ok := h.rooms[key]
	if ok && !room.isClosed() {
		return room
	}

	room = newRoom(key, h.observer)
	h.rooms[key] = room
	if !ok {
		telemetry.RoomCreated()
	}

	return room
}
