package ws

import (
	"errors"

	"github.com/isqad/melody"

	"github.com/isqad/livelook-mesh/internal/protocol"
)

const (
	connIDSessionKey = "conn_id"
	connSessionKey   = "conn"
)

var errNoConn = errors.New("websocket session has no connection")

// sessionConn adapts a melody session to hub.Conn
type sessionConn struct {
	id      string
	session *melody.Session
}

func (c *sessionConn) ID() string {
	return c.id
}

// Send queues the message on the session; melody never blocks the caller
func (c *sessionConn) Send(rpc protocol.Rpc) error {
	msg, err := rpc.ToJSON()
	if err != nil {
		return err
	}
	return c.session.Write(msg)
}

func connFromSession(s *melody.Session) (*sessionConn, error) {
	conn, ok := s.Keys[connSessionKey].(*sessionConn)
	if !ok {
		return nil, errNoConn
	}
	return conn, nil
}
