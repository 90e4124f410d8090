package session

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// PeerLink is the negotiation and media attachment state towards one remote participant. The manager
// mutates it only from that participant's lane.
type PeerLink struct {
	remoteID  string
	initiator bool
	transport Transport

	lock                 sync.Mutex
	state                State
	localDescription     *webrtc.SessionDescription
	remoteDescriptionSet bool
	pendingCandidates    []webrtc.ICECandidateInit
	senders              map[webrtc.RTPCodecType]Sender
	remoteTracks         []RemoteTrack
	dataChannel          DataChannel
}

func newPeerLink(remoteID string, initiator bool, transport Transport) *PeerLink {
	return &PeerLink{
		remoteID:          remoteID,
		initiator:         initiator,
		transport:         transport,
		state:             StateNew,
		pendingCandidates: make([]webrtc.ICECandidateInit, 0),
		senders:           make(map[webrtc.RTPCodecType]Sender),
	}
}

func (l *PeerLink) RemoteID() string {
	return l.remoteID
}

// Initiator reports whether this side sends the offer
func (l *PeerLink) Initiator() bool {
	return l.initiator
}

func (l *PeerLink) State() State {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.state
}

func (l *PeerLink) LocalDescription() *webrtc.SessionDescription {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.localDescription
}

// Sender returns the sender of the outgoing track of that kind
func (l *PeerLink) Sender(kind webrtc.RTPCodecType) Sender {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.senders[kind]
}

func (l *PeerLink) DataChannel() DataChannel {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.dataChannel
}

func (l *PeerLink) RemoteTracks() []RemoteTrack {
	l.lock.Lock()
	defer l.lock.Unlock()

	tracks := make([]RemoteTrack, len(l.remoteTracks))
	copy(tracks, l.remoteTracks)
	return tracks
}

// PendingCandidates is the number of candidates waiting for the remote description
func (l *PeerLink) PendingCandidates() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return len(l.pendingCandidates)
}

func (l *PeerLink) setState(to State) (State, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	from := l.state
	if !from.CanTransition(to) {
		return from, false
	}
	l.state = to
	return from, true
}

func (l *PeerLink) setLocalDescription(sdp webrtc.SessionDescription) error {
	if err := l.transport.SetLocalDescription(sdp); err != nil {
		return err
	}

	l.lock.Lock()
	l.localDescription = &sdp
	l.lock.Unlock()

	return nil
}

func (l *PeerLink) setRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(sdp); err != nil {
		return err
	}

	l.lock.Lock()
	l.remoteDescriptionSet = true
	l.lock.Unlock()

	return nil
}

// addICECandidate applies the candidate once the remote description is known and queues it before that.
// It reports whether the candidate was applied.
func (l *PeerLink) addICECandidate(candidate webrtc.ICECandidateInit) (bool, error) {
	l.lock.Lock()
	if !l.remoteDescriptionSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		l.lock.Unlock()
		return false, nil
	}
	l.lock.Unlock()

	return true, l.transport.AddICECandidate(candidate)
}

// flushCandidates applies queued candidates in receipt order. A rejected candidate does not stop the rest.
func (l *PeerLink) flushCandidates() []error {
	l.lock.Lock()
	pending := l.pendingCandidates
	l.pendingCandidates = make([]webrtc.ICECandidateInit, 0)
	l.lock.Unlock()

	var errs []error
	for _, candidate := range pending {
		if err := l.transport.AddICECandidate(candidate); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (l *PeerLink) attachTrack(track webrtc.TrackLocal) error {
	sender, err := l.transport.AddTrack(track)
	if err != nil {
		return err
	}

	l.lock.Lock()
	l.senders[track.Kind()] = sender
	l.lock.Unlock()

	return nil
}

func (l *PeerLink) detachTrack(kind webrtc.RTPCodecType) error {
	l.lock.Lock()
	sender, ok := l.senders[kind]
	delete(l.senders, kind)
	l.lock.Unlock()

	if !ok {
		return nil
	}
	return l.transport.RemoveTrack(sender)
}

func (l *PeerLink) addRemoteTrack(track RemoteTrack) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.remoteTracks = append(l.remoteTracks, track)
}

// setDataChannel keeps the first channel; later ones are returned as rejected
func (l *PeerLink) setDataChannel(channel DataChannel) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.dataChannel != nil {
		return false
	}
	l.dataChannel = channel
	return true
}

// release closes the transport and forgets everything negotiated on it
func (l *PeerLink) release() error {
	l.lock.Lock()
	l.pendingCandidates = make([]webrtc.ICECandidateInit, 0)
	l.remoteTracks = nil
	l.senders = make(map[webrtc.RTPCodecType]Sender)
	channel := l.dataChannel
	l.dataChannel = nil
	l.lock.Unlock()

	if channel != nil {
		_ = channel.Close()
	}
	return l.transport.Close()
}
