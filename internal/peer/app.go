package peer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/media"
	"github.com/isqad/livelook-mesh/internal/protocol"
	"github.com/isqad/livelook-mesh/internal/rtc"
	"github.com/isqad/livelook-mesh/internal/session"
	"github.com/isqad/livelook-mesh/internal/signaling"
)

const leaveTimeout = 5 * time.Second

var ErrEmptyRoom = errors.New("room is required")

// AppOptions is options of a headless participant
type AppOptions struct {
	Config    *config.Config
	ServerURL string
	Room      string
	// ParticipantID defaults to a random uuid
	ParticipantID string
	VideoFile     string
	ScreenFile    string
	// ScreenShareAfter starts sharing ScreenFile once the delay has passed. Zero disables it.
	ScreenShareAfter time.Duration
}

// App joins a room and keeps a mesh link to every other member
type App struct {
	AppOptions

	sink    *Sink
	client  *signaling.Client
	manager *session.Manager
}

func New(options AppOptions) (*App, error) {
	if options.Config == nil {
		options.Config = config.NewConfig()
	}
	if options.Room == "" {
		return nil, ErrEmptyRoom
	}
	if options.ParticipantID == "" {
		options.ParticipantID = uuid.NewString()
	}

	return &App{
		AppOptions: options,
		sink:       NewSink(),
	}, nil
}

func (app *App) Start() error {
	app.initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}

// Run stays in the room until ctx is done or the hub hangs up
func (app *App) Run(ctx context.Context) error {
	rtcConf, err := config.NewWebRTCConfig(app.Config)
	if err != nil {
		return err
	}

	client, err := signaling.Dial(ctx, app.ServerURL)
	if err != nil {
		return err
	}
	app.client = client

	app.manager = session.NewManager(session.Options{
		LocalID: app.ParticipantID,
		Relay:   client,
		NewTransport: rtc.NewTransportFactory(rtc.TransportParams{
			EnabledCodecs: app.Config.Peer.EnabledCodecs,
			Config:        rtcConf,
		}),
		Media: &media.SampleSource{
			VideoFile:  app.VideoFile,
			ScreenFile: app.ScreenFile,
		},
		Sink:         app.sink,
		RetryBackoff: app.Config.Peer.RetryBackoff,
		MaxRetries:   app.Config.Peer.MaxRetries,
	})

	disposeSignaling := client.Subscribe(newRouter(app.manager, app.sink).route)
	defer disposeSignaling()
	disposeSession := app.manager.Subscribe(logSessionEvent)
	defer disposeSession()

	if err := app.manager.StartMedia(ctx); err != nil {
		// The link still negotiates; the remote side just receives nothing
		log.Warn().Err(err).Str("service", "peer").Msg("continuing without local media")
	}

	if err := client.Join(app.Room, app.ParticipantID); err != nil {
		app.shutdown()
		return err
	}
	log.Info().
		Str("service", "peer").
		Str("room", app.Room).
		Str("participant_id", app.ParticipantID).
		Msg("joined the room")

	var screenShare <-chan time.Time
	if app.ScreenShareAfter > 0 {
		timer := time.NewTimer(app.ScreenShareAfter)
		defer timer.Stop()
		screenShare = timer.C
	}

	for {
		select {
		case <-screenShare:
			if err := app.manager.StartScreenShare(ctx); err != nil {
				log.Error().Err(err).Str("service", "peer").Msg("can't start screen sharing")
			}
		case <-client.Done():
			log.Warn().Str("service", "peer").Msg("signaling connection is lost")
			app.shutdown()
			return nil
		case <-ctx.Done():
			log.Warn().Str("service", "peer").Msg("leaving the room")
			app.shutdown()
			return nil
		}
	}
}

// SetVideoEnabled mutes or unmutes the outgoing video and tells the room
func (app *App) SetVideoEnabled(enabled bool) error {
	app.manager.SetVideoEnabled(enabled)
	return app.client.BroadcastControl(protocol.VideoToggleControl, protocol.ToggleParams{Enabled: enabled})
}

func (app *App) SetAudioEnabled(enabled bool) error {
	app.manager.SetAudioEnabled(enabled)
	return app.client.BroadcastControl(protocol.AudioToggleControl, protocol.ToggleParams{Enabled: enabled})
}

func (app *App) shutdown() {
	if err := app.client.Leave(); err != nil {
		log.Debug().Err(err).Str("service", "peer").Msg("can't send leave")
	}

	select {
	case <-app.manager.CloseAll():
	case <-time.After(leaveTimeout):
		log.Warn().Str("service", "peer").Msg("links did not close in time")
	}

	if err := app.client.Close(); err != nil {
		log.Debug().Err(err).Str("service", "peer").Msg("can't close signaling connection")
	}
}

func (app *App) initLogger() {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if app.Config.App.Env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// sessionHandler is the part of session.Manager the router feeds
type sessionHandler interface {
	OnExistingMembers(ids []string) <-chan struct{}
	OnPresenceAdd(id string) <-chan struct{}
	OnPresenceRemove(id string) <-chan struct{}
	HandleOffer(remoteID string, offer webrtc.SessionDescription) <-chan struct{}
	HandleAnswer(remoteID string, answer webrtc.SessionDescription) <-chan struct{}
	HandleICECandidate(remoteID string, candidate webrtc.ICECandidateInit) <-chan struct{}
}

type router struct {
	handler sessionHandler
	sink    *Sink
}

func newRouter(handler sessionHandler, sink *Sink) *router {
	return &router{handler: handler, sink: sink}
}

// route runs on the signaling read goroutine; session operations only enqueue
func (r *router) route(event signaling.Event) {
	switch e := event.(type) {
	case signaling.ExistingMembers:
		r.handler.OnExistingMembers(e.Members)
	case signaling.PresenceAdded:
		r.handler.OnPresenceAdd(e.ParticipantID)
	case signaling.PresenceRemoved:
		r.handler.OnPresenceRemove(e.ParticipantID)
		r.sink.Forget(e.ParticipantID)
	case signaling.OfferReceived:
		r.handler.HandleOffer(e.From, e.Offer)
	case signaling.AnswerReceived:
		r.handler.HandleAnswer(e.From, e.Answer)
	case signaling.CandidateReceived:
		r.handler.HandleICECandidate(e.From, e.Candidate)
	case signaling.ControlReceived:
		r.control(e)
	case signaling.ChatReceived:
		log.Info().Str("service", "peer").Str("remote_id", e.From).RawJSON("payload", e.Payload).Msg("chat")
	case signaling.ErrorReceived:
		log.Warn().Str("service", "peer").Int("code", e.Code).Msg(e.Message)
	}
}

func (r *router) control(e signaling.ControlReceived) {
	if e.Kind != protocol.VideoToggleControl {
		log.Debug().Str("service", "peer").Str("remote_id", e.From).Str("kind", e.Kind).Msg("control")
		return
	}

	toggle := protocol.ToggleParams{}
	if err := json.Unmarshal(e.Payload, &toggle); err != nil {
		log.Warn().Err(err).Str("service", "peer").Str("remote_id", e.From).Msg("malformed video toggle")
		return
	}
	r.sink.SetVideoEnabled(e.From, toggle.Enabled)
}

func logSessionEvent(event session.Event) {
	switch e := event.(type) {
	case session.LinkStateChanged:
		log.Debug().Str("service", "peer").Str("remote_id", e.RemoteID).Stringer("from", e.From).Stringer("to", e.To).Msg("link state")
	case session.PeerUnreachable:
		log.Warn().Str("service", "peer").Str("remote_id", e.RemoteID).Msg("peer is unreachable")
	case session.DataReceived:
		log.Info().Str("service", "peer").Str("remote_id", e.RemoteID).Int("bytes", len(e.Data)).Msg("data received")
	}
}
