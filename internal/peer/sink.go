package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/session"
)

// rtpReader is satisfied by *webrtc.TrackRemote
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type TrackStats struct {
	ID      string
	Kind    webrtc.RTPCodecType
	Packets uint64
	Bytes   uint64
}

type trackCounter struct {
	id      string
	kind    webrtc.RTPCodecType
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// Sink stands in for a renderer: it drains remote tracks and counts what arrives. Video toggles
// outlive the tracks: a relinked participant keeps its toggle until it leaves the room.
type Sink struct {
	lock          sync.Mutex
	tracks        map[string][]*trackCounter
	videoDisabled map[string]struct{}
}

func NewSink() *Sink {
	return &Sink{
		tracks:        make(map[string][]*trackCounter),
		videoDisabled: make(map[string]struct{}),
	}
}

func (s *Sink) RemoteTrackAvailable(remoteID string, track session.RemoteTrack) {
	counter := &trackCounter{id: track.ID(), kind: track.Kind()}

	s.lock.Lock()
	s.tracks[remoteID] = append(s.tracks[remoteID], counter)
	s.lock.Unlock()

	log.Info().
		Str("service", "peer").
		Str("remote_id", remoteID).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Stringer("kind", track.Kind()).
		Msg("remote track available")

	if reader, ok := track.(rtpReader); ok {
		go consume(reader, counter)
	}
}

func (s *Sink) RemoteTracksReleased(remoteID string) {
	s.lock.Lock()
	tracks := s.tracks[remoteID]
	delete(s.tracks, remoteID)
	s.lock.Unlock()

	for _, counter := range tracks {
		log.Info().
			Str("service", "peer").
			Str("remote_id", remoteID).
			Str("track_id", counter.id).
			Uint64("packets", counter.packets.Load()).
			Uint64("bytes", counter.bytes.Load()).
			Msg("remote track released")
	}
}

// SetVideoEnabled records a video-toggle control from a remote participant
func (s *Sink) SetVideoEnabled(remoteID string, enabled bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if enabled {
		delete(s.videoDisabled, remoteID)
		return
	}
	s.videoDisabled[remoteID] = struct{}{}
}

// VideoEnabled is true unless the remote participant said otherwise
func (s *Sink) VideoEnabled(remoteID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, disabled := s.videoDisabled[remoteID]
	return !disabled
}

// Forget drops what is known about a participant that left the room
func (s *Sink) Forget(remoteID string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.videoDisabled, remoteID)
}

func (s *Sink) Stats(remoteID string) []TrackStats {
	s.lock.Lock()
	defer s.lock.Unlock()

	tracks, ok := s.tracks[remoteID]
	if !ok {
		return nil
	}

	stats := make([]TrackStats, 0, len(tracks))
	for _, counter := range tracks {
		stats = append(stats, TrackStats{
			ID:      counter.id,
			Kind:    counter.kind,
			Packets: counter.packets.Load(),
			Bytes:   counter.bytes.Load(),
		})
	}
	return stats
}

func consume(reader rtpReader, counter *trackCounter) {
	for {
		packet, _, err := reader.ReadRTP()
		if err != nil {
			return
		}
		counter.packets.Add(1)
		counter.bytes.Add(uint64(len(packet.Payload)))
	}
}
