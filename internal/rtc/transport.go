package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/session"
)

const (
	rtcpPLIInterval            = time.Second * 3
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

var ErrForeignSender = errors.New("sender does not belong to a peer connection")

// PCTransport is a session.Transport over one pion peer connection
type PCTransport struct {
	pc *webrtc.PeerConnection

	done      chan struct{}
	closeOnce sync.Once
}

type TransportParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
}

// NewTransportFactory gives the session manager a fresh peer connection per link
func NewTransportFactory(params TransportParams) session.TransportFactory {
	return func() (session.Transport, error) {
		t, err := NewPCTransport(params)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func NewPCTransport(params TransportParams) (*PCTransport, error) {
	pc, err := newPeerConnection(params)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{
		pc:   pc,
		done: make(chan struct{}),
	}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Msg("ICE gathering complete")
		}
	})

	return t, nil
}

func newPeerConnection(params TransportParams) (*webrtc.PeerConnection, error) {
	me, registry, err := createMediaEngine(params.EnabledCodecs, params.Config.Media)
	if err != nil {
		log.Error().Err(err).Str("service", "rtc").Msg("can't create media engine")
		return nil, err
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

func (t *PCTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *PCTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *PCTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

func (t *PCTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *PCTransport) AddTrack(track webrtc.TrackLocal) (session.Sender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Read incoming RTCP packets. Interceptors such as NACK only see them when they are read.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	return sender, nil
}

func (t *PCTransport) RemoveTrack(sender session.Sender) error {
	rtpSender, ok := sender.(*webrtc.RTPSender)
	if !ok {
		return ErrForeignSender
	}
	return t.pc.RemoveTrack(rtpSender)
}

func (t *PCTransport) CreateDataChannel(label string) (session.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &DataChannel{dc: dc}, nil
}

func (t *PCTransport) OnICECandidate(f func(candidate webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (t *PCTransport) OnConnectionStateChange(f func(state webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("service", "rtc").Stringer("state", state).Msg("peer connection state has changed")
		f(state)
	})
}

func (t *PCTransport) OnTrack(f func(track session.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("service", "rtc").
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("mime", track.Codec().MimeType).
			Msg("remote track")

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go t.requestKeyframes(track)
		}
		f(track)
	})
}

func (t *PCTransport) OnDataChannel(f func(channel session.DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&DataChannel{dc: dc})
	})
}

func (t *PCTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.pc.Close()
	})
	return err
}

// requestKeyframes sends a PLI on an interval so that the remote side pushes a keyframe every rtcpPLIInterval
func (t *PCTransport) requestKeyframes(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		if err := t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			log.Debug().Err(err).Str("service", "rtc").Str("track_id", track.ID()).Msg("can't send PLI")
			return
		}
	}
}

// DataChannel adapts a pion data channel to session.DataChannel
type DataChannel struct {
	dc *webrtc.DataChannel
}

func (c *DataChannel) Label() string {
	return c.dc.Label()
}

func (c *DataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *DataChannel) OnMessage(f func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (c *DataChannel) Close() error {
	return c.dc.Close()
}
