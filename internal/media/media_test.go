package media

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a VP8 IVF file with the given number of frames at 1ms per frame
func writeIVF(t *testing.T, frames int) string {
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 1000)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(frames))

	data := header
	for i := 0; i < frames; i++ {
		payload := []byte{0x10, 0x02, 0x00, byte(i)}
		frameHeader := make([]byte, 12)
		binary.LittleEndian.PutUint32(frameHeader[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint64(frameHeader[4:12], uint64(i))
		data = append(data, frameHeader...)
		data = append(data, payload...)
	}

	path := filepath.Join(t.TempDir(), "video.ivf")
	require.Nil(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestTrackLifecycle(t *testing.T) {
	track, err := NewSampleTrack(webrtc.MimeTypeVP8, "camera", "stream")
	require.Nil(t, err)

	assert.Equal(t, "camera", track.ID())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, track.Kind())
	assert.True(t, track.Enabled())
	assert.False(t, track.IsEnded())

	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	track.Stop()
	track.Stop()
	assert.True(t, track.IsEnded())

	select {
	case <-track.Ended():
	default:
		t.Fatal("ended channel is open after stop")
	}
}

func TestTracksByKind(t *testing.T) {
	audio, err := NewSampleTrack(webrtc.MimeTypeOpus, "audio", "stream")
	require.Nil(t, err)
	video, err := NewSampleTrack(webrtc.MimeTypeVP8, "video", "stream")
	require.Nil(t, err)

	tracks := []*Track{video, audio}
	assert.Equal(t, audio, AudioTrack(tracks))
	assert.Equal(t, video, VideoTrack(tracks))
	assert.Nil(t, VideoTrack([]*Track{audio}))
}

func TestUserMediaWithoutCamera(t *testing.T) {
	source := &SampleSource{}

	tracks, err := source.UserMedia(context.Background())
	require.Nil(t, err)
	t.Cleanup(func() {
		for _, track := range tracks {
			track.Stop()
		}
	})

	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
}

func TestUserMediaWithCamera(t *testing.T) {
	source := &SampleSource{VideoFile: writeIVF(t, 3)}

	tracks, err := source.UserMedia(context.Background())
	require.Nil(t, err)
	require.Len(t, tracks, 2)

	camera := VideoTrack(tracks)
	require.NotNil(t, camera)

	// the camera loops, so it is still alive well after three frames
	time.Sleep(50 * time.Millisecond)
	assert.False(t, camera.IsEnded())

	for _, track := range tracks {
		track.Stop()
	}
}

func TestUserMediaWithMissingCamera(t *testing.T) {
	source := &SampleSource{VideoFile: filepath.Join(t.TempDir(), "missing.ivf")}

	_, err := source.UserMedia(context.Background())
	assert.True(t, errors.Is(err, ErrNoUserMedia))
}

func TestUserMediaCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&SampleSource{}).UserMedia(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestDisplayMediaEndsWithFile(t *testing.T) {
	source := &SampleSource{ScreenFile: writeIVF(t, 3)}

	screen, err := source.DisplayMedia(context.Background())
	require.Nil(t, err)
	assert.Equal(t, "screen", screen.ID())

	select {
	case <-screen.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("screen track did not end")
	}
}

func TestDisplayMediaWithoutScreen(t *testing.T) {
	_, err := (&SampleSource{}).DisplayMedia(context.Background())
	assert.Equal(t, ErrNoDisplay, err)
}
