package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// Track is a local outgoing track. The same Track is attached to every peer link.
type Track struct {
	local  webrtc.TrackLocal
	sample *webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	ended    chan struct{}
	stopOnce sync.Once
}

func NewTrack(local webrtc.TrackLocal) *Track {
	t := &Track{
		local: local,
		ended: make(chan struct{}),
	}
	t.sample, _ = local.(*webrtc.TrackLocalStaticSample)
	t.enabled.Store(true)

	return t
}

// NewSampleTrack creates a track fed with WriteSample
func NewSampleTrack(mimeType, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, err
	}

	return NewTrack(local), nil
}

func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) ID() string {
	return t.local.ID()
}

func (t *Track) Kind() webrtc.RTPCodecType {
	return t.local.Kind()
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled mutes or unmutes the track. A disabled track keeps its senders but writes no samples.
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// WriteSample drops the sample while the track is disabled or stopped
func (t *Track) WriteSample(sample pionmedia.Sample) error {
	if t.sample == nil || !t.Enabled() || t.IsEnded() {
		return nil
	}

	return t.sample.WriteSample(sample)
}

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.ended)
	})
}

// Ended is closed when the track is stopped, locally or because its source ran dry
func (t *Track) Ended() <-chan struct{} {
	return t.ended
}

func (t *Track) IsEnded() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}
