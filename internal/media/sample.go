package media

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

const (
	audioFrameDuration   = 20 * time.Millisecond
	defaultFrameDuration = 33 * time.Millisecond
	streamID             = "livelook"
)

// opus frame carrying silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SampleSource plays IVF files in place of devices. The camera file loops; the screen file plays once
// and its track ends when the file is exhausted.
type SampleSource struct {
	VideoFile  string
	ScreenFile string
}

func (s *SampleSource) UserMedia(ctx context.Context) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := NewSampleTrack(webrtc.MimeTypeOpus, "audio", streamID)
	if err != nil {
		return nil, acquisitionError("microphone", err)
	}
	go pumpSilence(audio)

	tracks := []*Track{audio}
	if s.VideoFile == "" {
		return tracks, nil
	}

	camera, err := s.openVideo(s.VideoFile, "camera", true)
	if err != nil {
		audio.Stop()
		return nil, acquisitionError("camera", err)
	}

	return append(tracks, camera), nil
}

func (s *SampleSource) DisplayMedia(ctx context.Context) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.ScreenFile == "" {
		return nil, ErrNoDisplay
	}

	return s.openVideo(s.ScreenFile, "screen", false)
}

func (s *SampleSource) openVideo(path, id string, loop bool) (*Track, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	track, err := NewSampleTrack(webrtc.MimeTypeVP8, id, streamID)
	if err != nil {
		file.Close()
		return nil, err
	}

	go pumpIVF(track, file, ivf, frameDuration(header), loop)

	return track, nil
}

func frameDuration(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return defaultFrameDuration
	}
	d := time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	if d <= 0 {
		return defaultFrameDuration
	}
	return d
}

// pumpIVF sends the file a frame at a time, paced at playback speed
func pumpIVF(track *Track, file *os.File, ivf *ivfreader.IVFReader, duration time.Duration, loop bool) {
	defer file.Close()
	defer track.Stop()

	ticker := time.NewTicker(duration)
	defer ticker.Stop()

	for {
		select {
		case <-track.Ended():
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !loop {
				log.Debug().Str("service", "media").Str("track_id", track.ID()).Msg("all video frames sent")
				return
			}

			if _, err = file.Seek(0, io.SeekStart); err == nil {
				ivf, _, err = ivfreader.NewWith(file)
			}
			if err != nil {
				log.Error().Err(err).Str("service", "media").Str("track_id", track.ID()).Msg("can't rewind video")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("service", "media").Str("track_id", track.ID()).Msg("can't parse video frame")
			return
		}

		// a failed write means one binding is going away; the track stays usable for the others
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: duration}); err != nil {
			log.Debug().Err(err).Str("service", "media").Str("track_id", track.ID()).Msg("can't write video sample")
		}
	}
}

func pumpSilence(track *Track) {
	ticker := time.NewTicker(audioFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-track.Ended():
			return
		case <-ticker.C:
		}

		if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: audioFrameDuration}); err != nil {
			log.Debug().Err(err).Str("service", "media").Str("track_id", track.ID()).Msg("can't write audio sample")
		}
	}
}
