package session

import (
	"context"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/media"
	"github.com/isqad/livelook-mesh/internal/telemetry"
)

// StartMedia acquires user media and attaches it to every link. On failure the manager keeps working
// without local tracks and the error is a *MediaAcquisitionError.
func (m *Manager) StartMedia(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if m.source == nil {
		return &MediaAcquisitionError{Err: media.ErrNoUserMedia}
	}

	tracks, err := m.source.UserMedia(ctx)
	if err != nil {
		telemetry.Operation("user_media", telemetry.StatusError, "acquisition")
		log.Warn().Err(err).Str("service", "session").Msg("continue without local media")
		return &MediaAcquisitionError{Err: err}
	}

	m.mediaLock.Lock()
	stale := []*media.Track{m.audio, m.camera}
	m.audio = media.AudioTrack(tracks)
	m.camera = media.VideoTrack(tracks)
	m.mediaLock.Unlock()

	err = wait(ctx, m.applyLocalMediaEverywhere())

	for _, track := range stale {
		if track != nil {
			track.Stop()
		}
	}

	telemetry.Operation("user_media", telemetry.StatusSuccess, "")
	return err
}

// StartScreenShare swaps the outgoing video of every link for a screen capture. A screen track that
// ends on its own stops the share.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if m.source == nil {
		return &MediaAcquisitionError{Err: media.ErrNoDisplay}
	}
	if m.Sharing() {
		return nil
	}

	screen, err := m.source.DisplayMedia(ctx)
	if err != nil {
		telemetry.Operation("display_media", telemetry.StatusError, "acquisition")
		return &MediaAcquisitionError{Err: err}
	}

	m.mediaLock.Lock()
	if m.screen != nil {
		m.mediaLock.Unlock()
		screen.Stop()
		return nil
	}
	m.screen = screen
	m.mediaLock.Unlock()

	go m.watchScreen(screen)

	log.Info().Str("service", "session").Str("track_id", screen.ID()).Msg("screen sharing started")
	telemetry.Operation("display_media", telemetry.StatusSuccess, "")

	return wait(ctx, m.applyLocalMediaEverywhere())
}

// StopScreenShare puts the camera back on every link, or drops outgoing video when there is no camera
func (m *Manager) StopScreenShare() <-chan struct{} {
	m.mediaLock.Lock()
	screen := m.screen
	m.screen = nil
	m.mediaLock.Unlock()

	if screen == nil {
		return closedChan()
	}
	screen.Stop()

	log.Info().Str("service", "session").Str("track_id", screen.ID()).Msg("screen sharing stopped")

	if m.isClosed() {
		return closedChan()
	}
	return m.applyLocalMediaEverywhere()
}

func (m *Manager) Sharing() bool {
	m.mediaLock.Lock()
	defer m.mediaLock.Unlock()

	return m.screen != nil
}

func (m *Manager) SetAudioEnabled(enabled bool) {
	m.mediaLock.Lock()
	defer m.mediaLock.Unlock()

	if m.audio != nil {
		m.audio.SetEnabled(enabled)
	}
}

func (m *Manager) SetVideoEnabled(enabled bool) {
	m.mediaLock.Lock()
	defer m.mediaLock.Unlock()

	for _, track := range []*media.Track{m.camera, m.screen} {
		if track != nil {
			track.SetEnabled(enabled)
		}
	}
}

// LocalTracks returns the tracks every link sends: audio and camera or screen. Either may be nil.
func (m *Manager) LocalTracks() (audio, video *media.Track) {
	m.mediaLock.Lock()
	defer m.mediaLock.Unlock()

	video = m.camera
	if m.screen != nil {
		video = m.screen
	}
	return m.audio, video
}

func (m *Manager) watchScreen(screen *media.Track) {
	<-screen.Ended()

	m.mediaLock.Lock()
	current := m.screen == screen
	m.mediaLock.Unlock()

	if current {
		log.Info().Str("service", "session").Str("track_id", screen.ID()).Msg("screen track ended")
		<-m.StopScreenShare()
	}
}

// applyLocalMediaEverywhere queues the apply on every lane, including lanes whose link is still being
// created.
func (m *Manager) applyLocalMediaEverywhere() <-chan struct{} {
	m.lock.Lock()
	ids := make([]string, 0, len(m.lanes))
	for id := range m.lanes {
		ids = append(ids, id)
	}
	m.lock.Unlock()

	chans := make([]<-chan struct{}, 0, len(ids))
	for _, id := range ids {
		id := id
		chans = append(chans, m.submit(id, func() { m.applyLocalMedia(id) }))
	}
	return all(chans)
}

// attachLocalTracks adds the local tracks to a link that has not negotiated yet
func (m *Manager) attachLocalTracks(link *PeerLink) {
	audio, video := m.LocalTracks()

	for _, track := range []*media.Track{audio, video} {
		if track == nil {
			continue
		}
		if err := link.attachTrack(track.Local()); err != nil {
			log.Warn().Err(err).Str("service", "session").Str("remote_id", link.remoteID).Str("track_id", track.ID()).Msg("can't attach track")
		}
	}
}

// applyLocalMedia makes the link send the current local tracks. Senders swap their track in place; a
// negotiated link that needs a sender added or removed, or whose sender refuses the swap, is renegotiated.
func (m *Manager) applyLocalMedia(remoteID string) {
	link := m.link(remoteID)
	if link == nil {
		return
	}

	state := link.State()
	if state == StateFailed || state == StateClosed {
		// the retry attaches the current tracks
		return
	}

	audio, video := m.LocalTracks()
	outgoing := []struct {
		kind  webrtc.RTPCodecType
		track *media.Track
	}{
		{webrtc.RTPCodecTypeAudio, audio},
		{webrtc.RTPCodecTypeVideo, video},
	}

	renegotiate := false
	for _, out := range outgoing {
		sender := link.Sender(out.kind)

		switch {
		case out.track == nil && sender == nil:
		case out.track == nil:
			if state != StateNew {
				renegotiate = true
				continue
			}
			if err := link.detachTrack(out.kind); err != nil {
				log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't remove track")
			}
		case sender == nil:
			if state != StateNew {
				renegotiate = true
				continue
			}
			if err := link.attachTrack(out.track.Local()); err != nil {
				log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't attach track")
			}
		case sender.Track() != out.track.Local():
			if err := sender.ReplaceTrack(out.track.Local()); err != nil {
				log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't replace track in place")
				renegotiate = true
			}
		}
	}

	if renegotiate {
		m.renegotiate(link)
	}
}

// renegotiate rebuilds the link with the current tracks and offers from this side
func (m *Manager) renegotiate(link *PeerLink) {
	telemetry.Operation("renegotiate", telemetry.StatusSuccess, "")
	log.Info().Str("service", "session").Str("remote_id", link.remoteID).Msg("renegotiate peer link")

	next := m.replaceLink(link.remoteID, true)
	if next != nil {
		m.makeOffer(next)
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
