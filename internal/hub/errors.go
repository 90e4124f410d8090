package hub

import (
	"errors"
	"fmt"
)

// ErrProtocol is wrapped by every rejection of a malformed request. A rejected request leaves room and
// connection state unchanged.
var ErrProtocol = errors.New("protocol error")

var (
	ErrEmptyRoomKey       = fmt.Errorf("%w: room key is required", ErrProtocol)
	ErrEmptyParticipantID = fmt.Errorf("%w: participant id is required", ErrProtocol)
	ErrNotJoined          = fmt.Errorf("%w: connection has not joined a room", ErrProtocol)
	ErrEmptyTarget        = fmt.Errorf("%w: relay target is required", ErrProtocol)
	ErrRoomMismatch       = fmt.Errorf("%w: connection is joined to another room", ErrProtocol)
	ErrUnsupportedMethod  = fmt.Errorf("%w: method can't be sent by a client", ErrProtocol)
)
