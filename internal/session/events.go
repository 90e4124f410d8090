package session

// Event is one of LinkStateChanged, RemoteTrackAdded, PeerUnreachable or DataReceived
type Event interface {
	Remote() string
}

type LinkStateChanged struct {
	RemoteID string
	From     State
	To       State
}

type RemoteTrackAdded struct {
	RemoteID string
	Track    RemoteTrack
}

// PeerUnreachable is published once the retry budget for a remote participant is spent
type PeerUnreachable struct {
	RemoteID string
}

type DataReceived struct {
	RemoteID string
	Data     []byte
}

func (e LinkStateChanged) Remote() string { return e.RemoteID }
func (e RemoteTrackAdded) Remote() string { return e.RemoteID }
func (e PeerUnreachable) Remote() string  { return e.RemoteID }
func (e DataReceived) Remote() string     { return e.RemoteID }
