package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

var (
	ErrNoDisplay   = errors.New("no display source configured")
	ErrNoUserMedia = errors.New("user media is unavailable")
)

// Source provides local media. UserMedia returns the microphone track and, when available, the camera
// track. DisplayMedia returns a screen capture video track.
type Source interface {
	UserMedia(ctx context.Context) ([]*Track, error)
	DisplayMedia(ctx context.Context) (*Track, error)
}

// AudioTrack returns the first audio track of tracks, or nil
func AudioTrack(tracks []*Track) *Track {
	return firstOfKind(tracks, webrtc.RTPCodecTypeAudio)
}

// VideoTrack returns the first video track of tracks, or nil
func VideoTrack(tracks []*Track) *Track {
	return firstOfKind(tracks, webrtc.RTPCodecTypeVideo)
}

func firstOfKind(tracks []*Track, kind webrtc.RTPCodecType) *Track {
	for _, t := range tracks {
		if t != nil && t.Kind() == kind {
			return t
		}
	}
	return nil
}

func acquisitionError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrNoUserMedia, what, err)
}
