package session

import "github.com/pion/webrtc/v3"

const reliableChannelLabel = "_reliable"

// Transport is one peer connection. Callbacks may fire from any goroutine.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) (Sender, error)
	RemoveTrack(sender Sender) error
	CreateDataChannel(label string) (DataChannel, error)

	OnICECandidate(func(candidate webrtc.ICECandidateInit))
	OnConnectionStateChange(func(state webrtc.PeerConnectionState))
	OnTrack(func(track RemoteTrack))
	OnDataChannel(func(channel DataChannel))

	Close() error
}

type TransportFactory func() (Transport, error)

// Sender is satisfied by *webrtc.RTPSender
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is satisfied by *webrtc.TrackRemote
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnMessage(func(data []byte))
	Close() error
}

// Relay carries handshake messages to exactly one remote participant
type Relay interface {
	SendOffer(remoteID string, offer webrtc.SessionDescription) error
	SendAnswer(remoteID string, answer webrtc.SessionDescription) error
	SendICECandidate(remoteID string, candidate webrtc.ICECandidateInit) error
}

// TrackSink renders remote media
type TrackSink interface {
	RemoteTrackAvailable(remoteID string, track RemoteTrack)
	RemoteTracksReleased(remoteID string)
}

type nopSink struct{}

func (nopSink) RemoteTrackAvailable(string, RemoteTrack) {}
func (nopSink) RemoteTracksReleased(string)              {}
