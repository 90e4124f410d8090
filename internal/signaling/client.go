package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/protocol"
	"github.com/isqad/livelook-mesh/internal/pubsub"
)

const (
	handshakeTimeout = 45 * time.Second
	writeWait        = 10 * time.Second
	closeWait        = time.Second
)

var (
	ErrNotJoined = errors.New("client has not joined a room")
	ErrClosed    = errors.New("signaling client is closed")
)

// Client is one participant's websocket to the hub. It relays handshake messages for the session manager
// and publishes everything the hub sends as typed events.
type Client struct {
	conn *websocket.Conn

	writeLock sync.Mutex

	lock sync.RWMutex
	room string

	events *pubsub.Bus[Event]

	done      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	resp.Body.Close()

	c := &Client{
		conn:   conn,
		events: pubsub.New[Event](),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Subscribe registers a handler for hub events. Handlers run on the read goroutine and must not block.
func (c *Client) Subscribe(handler pubsub.Handler[Event]) pubsub.Dispose {
	return c.events.Subscribe(handler)
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Room() string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.room
}

func (c *Client) Join(room, participantID string) error {
	if err := c.write(protocol.NewJoinRpc(room, participantID)); err != nil {
		return err
	}

	c.lock.Lock()
	c.room = room
	c.lock.Unlock()

	return nil
}

func (c *Client) Leave() error {
	if err := c.write(protocol.NewLeaveRpc()); err != nil {
		return err
	}

	c.lock.Lock()
	c.room = ""
	c.lock.Unlock()

	return nil
}

// BroadcastControl sends a control message to every other member of the room
func (c *Client) BroadcastControl(kind string, payload interface{}) error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(protocol.NewBroadcastControlRpc(room, kind, raw))
}

// SendChat sends a chat payload to the whole room, this client included
func (c *Client) SendChat(payload interface{}) error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(protocol.NewChatMessageRpc(room, raw))
}

func (c *Client) SendOffer(remoteID string, offer webrtc.SessionDescription) error {
	rpc, err := protocol.NewRelayOfferRpc(remoteID, offer)
	if err != nil {
		return err
	}
	return c.write(rpc)
}

func (c *Client) SendAnswer(remoteID string, answer webrtc.SessionDescription) error {
	rpc, err := protocol.NewRelayAnswerRpc(remoteID, answer)
	if err != nil {
		return err
	}
	return c.write(rpc)
}

func (c *Client) SendICECandidate(remoteID string, candidate webrtc.ICECandidateInit) error {
	rpc, err := protocol.NewRelayICECandidateRpc(remoteID, candidate)
	if err != nil {
		return err
	}
	return c.write(rpc)
}

// Close sends a close frame, waits a moment for the hub to hang up and drops the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeLock.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeLock.Unlock()

		select {
		case <-c.done:
		case <-time.After(closeWait):
		}

		if closeErr := c.conn.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}

func (c *Client) write(rpc protocol.Rpc) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}

	msg, err := rpc.ToJSON()
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			log.Debug().Err(err).Str("service", "signaling").Msg("connection closed")
			c.events.Publish(Disconnected{Err: err})
			return
		}

		rpc, err := protocol.RpcFromReader(bytes.NewReader(message))
		if err != nil {
			log.Warn().Err(err).Str("service", "signaling").Msg("can't decode message from hub")
			continue
		}

		event, err := eventFrom(rpc)
		if err != nil {
			log.Warn().Err(err).Str("service", "signaling").Str("method", string(rpc.GetMethod())).Msg("can't handle message from hub")
			continue
		}
		c.events.Publish(event)
	}
}

func eventFrom(rpc protocol.Rpc) (Event, error) {
	switch r := rpc.(type) {
	case *protocol.ExistingMembersRpc:
		return ExistingMembers{Room: r.Params.Room, Members: r.Params.Members}, nil
	case *protocol.PresenceRpc:
		if r.Method == protocol.PresenceAddMethod {
			return PresenceAdded{Room: r.Params.Room, ParticipantID: r.Params.ParticipantID}, nil
		}
		return PresenceRemoved{Room: r.Params.Room, ParticipantID: r.Params.ParticipantID}, nil
	case *protocol.SignalRpc:
		switch r.Method {
		case protocol.OfferMethod:
			offer, err := r.SessionDescription()
			if err != nil {
				return nil, err
			}
			return OfferReceived{From: r.Params.From, Offer: offer}, nil
		case protocol.AnswerMethod:
			answer, err := r.SessionDescription()
			if err != nil {
				return nil, err
			}
			return AnswerReceived{From: r.Params.From, Answer: answer}, nil
		default:
			candidate, err := r.ICECandidate()
			if err != nil {
				return nil, err
			}
			return CandidateReceived{From: r.Params.From, Candidate: candidate}, nil
		}
	case *protocol.ControlRpc:
		return ControlReceived{From: r.Params.From, Kind: r.Params.Kind, Payload: r.Params.Payload}, nil
	case *protocol.ChatRpc:
		return ChatReceived{From: r.Params.From, Payload: r.Params.Payload}, nil
	case *protocol.ErrorRpc:
		return ErrorReceived{Code: r.Params.Code, Message: r.Params.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not sent by the hub", protocol.ErrUnknownRpcType, rpc.GetMethod())
	}
}
