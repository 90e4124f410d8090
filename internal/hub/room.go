package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/protocol"
)

// Room serializes every operation on its member set
type Room struct {
	key      string
	observer Observer

	lock    sync.Mutex
	members map[string]Conn
	// closed is set when the last member leaves. A closed room is never reused, joiners create a new one.
	closed bool
}

func newRoom(key string, observer Observer) *Room {
	return &Room{
		key:      key,
		observer: observer,
		members:  make(map[string]Conn),
	}
}

func (r *Room) Key() string {
	return r.key
}

func (r *Room) isClosed() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.closed
}

// join records the member, replies with the other members and then announces the joiner to them.
// displaced is the connection that held participantID before a rebind from a new connection.
// ok is false when the room was closed concurrently and the caller must retry on a fresh room.
func (r *Room) join(conn Conn, participantID string) (displaced Conn, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil, false
	}

	previous, present := r.members[participantID]
	others := r.memberIDsExcept(participantID)
	r.members[participantID] = conn

	send(conn, protocol.NewExistingMembersRpc(r.key, others))

	if present {
		// duplicate join or a rebind from a new connection: the member set is unchanged
		if previous.ID() != conn.ID() {
			displaced = previous
		}
		return displaced, true
	}

	presence := protocol.NewPresenceAddRpc(r.key, participantID)
	for id, member := range r.members {
		if id == participantID {
			continue
		}
		send(member, presence)
	}

	r.observer.OnPresence(PresenceEvent{
		Room:          r.key,
		ParticipantID: participantID,
		Kind:          PresenceJoined,
		At:            time.Now(),
	})

	return nil, true
}

// leave removes the member only while conn is still the one bound to it. It reports whether the room
// became empty and is now closed.
func (r *Room) leave(conn Conn, participantID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	current, ok := r.members[participantID]
	if !ok || current.ID() != conn.ID() {
		return false
	}

	delete(r.members, participantID)

	presence := protocol.NewPresenceRemoveRpc(r.key, participantID)
	for _, member := range r.members {
		send(member, presence)
	}

	r.observer.OnPresence(PresenceEvent{
		Room:          r.key,
		ParticipantID: participantID,
		Kind:          PresenceLeft,
		At:            time.Now(),
	})

	if len(r.members) == 0 {
		r.closed = true
		return true
	}

	return false
}

func (r *Room) deliver(target string, msg protocol.Rpc) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	member, ok := r.members[target]
	if !ok {
		return false
	}

	send(member, msg)
	return true
}

func (r *Room) broadcast(msg protocol.Rpc, except string) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	delivered := 0
	for _, member := range r.members {
		if except != "" && member.ID() == except {
			continue
		}
		send(member, msg)
		delivered++
	}

	return delivered
}

// Members is a sorted snapshot of the participant ids
func (r *Room) Members() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.memberIDsExcept("")
}

func (r *Room) memberIDsExcept(participantID string) []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		if id == participantID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func send(conn Conn, msg protocol.Rpc) {
	if err := conn.Send(msg); err != nil {
		log.Warn().
			Err(err).
			Str("service", "hub").
			Str("conn_id", conn.ID()).
			Str("method", string(msg.GetMethod())).
			Msg("can't send rpc to connection")
	}
}
