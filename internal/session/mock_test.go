package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-mesh/internal/media"
)

type MockSender struct {
	lock       sync.Mutex
	track      webrtc.TrackLocal
	replaceErr error
}

func (s *MockSender) Track() webrtc.TrackLocal {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.track
}

func (s *MockSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.track = track
	return nil
}

type MockDataChannel struct {
	label string

	lock      sync.Mutex
	sent      [][]byte
	onMessage func([]byte)
	closed    bool
}

func (c *MockDataChannel) Label() string { return c.label }

func (c *MockDataChannel) Send(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.sent = append(c.sent, data)
	return nil
}

func (c *MockDataChannel) OnMessage(f func([]byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onMessage = f
}

func (c *MockDataChannel) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.closed = true
	return nil
}

func (c *MockDataChannel) Receive(data []byte) {
	c.lock.Lock()
	f := c.onMessage
	c.lock.Unlock()

	if f != nil {
		f(data)
	}
}

func (c *MockDataChannel) Sent() [][]byte {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([][]byte(nil), c.sent...)
}

type MockRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *MockRemoteTrack) ID() string                { return t.id }
func (t *MockRemoteTrack) StreamID() string          { return "remote" }
func (t *MockRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// MockTransport records everything applied to it. Errors set on it make the matching call fail.
type MockTransport struct {
	n int

	OfferErr     error
	AnswerErr    error
	SetRemoteErr error
	ReplaceErr   error
	// ChannelGate, when set, holds CreateDataChannel until it is closed. ChannelEntered is closed on entry.
	ChannelGate    chan struct{}
	ChannelEntered chan struct{}

	lock       sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*MockSender
	removed    []Sender
	channels   []*MockDataChannel
	closed     bool

	onCandidate   func(webrtc.ICECandidateInit)
	onState       func(webrtc.PeerConnectionState)
	onTrack       func(RemoteTrack)
	onDataChannel func(DataChannel)
}

func (t *MockTransport) CreateOffer() (webrtc.SessionDescription, error) {
	if t.OfferErr != nil {
		return webrtc.SessionDescription{}, t.OfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.n)}, nil
}

func (t *MockTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	if t.AnswerErr != nil {
		return webrtc.SessionDescription{}, t.AnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", t.n)}, nil
}

func (t *MockTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.local = &sdp
	return nil
}

func (t *MockTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if t.SetRemoteErr != nil {
		return t.SetRemoteErr
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.remote = &sdp
	return nil
}

func (t *MockTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *MockTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	sender := &MockSender{track: track, replaceErr: t.ReplaceErr}
	t.senders = append(t.senders, sender)
	return sender, nil
}

func (t *MockTransport) RemoveTrack(sender Sender) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.removed = append(t.removed, sender)
	return nil
}

func (t *MockTransport) CreateDataChannel(label string) (DataChannel, error) {
	if t.ChannelEntered != nil {
		close(t.ChannelEntered)
	}
	if t.ChannelGate != nil {
		<-t.ChannelGate
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	channel := &MockDataChannel{label: label}
	t.channels = append(t.channels, channel)
	return channel, nil
}

func (t *MockTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onCandidate = f
}

func (t *MockTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onState = f
}

func (t *MockTransport) OnTrack(f func(RemoteTrack)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onTrack = f
}

func (t *MockTransport) OnDataChannel(f func(DataChannel)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onDataChannel = f
}

func (t *MockTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.closed = true
	return nil
}

func (t *MockTransport) SetState(state webrtc.PeerConnectionState) {
	t.lock.Lock()
	f := t.onState
	t.lock.Unlock()

	if f != nil {
		f(state)
	}
}

func (t *MockTransport) Connect() { t.SetState(webrtc.PeerConnectionStateConnected) }
func (t *MockTransport) Fail()    { t.SetState(webrtc.PeerConnectionStateFailed) }

func (t *MockTransport) EmitCandidate(candidate string) {
	t.lock.Lock()
	f := t.onCandidate
	t.lock.Unlock()

	if f != nil {
		f(webrtc.ICECandidateInit{Candidate: candidate})
	}
}

func (t *MockTransport) EmitTrack(track RemoteTrack) {
	t.lock.Lock()
	f := t.onTrack
	t.lock.Unlock()

	if f != nil {
		f(track)
	}
}

func (t *MockTransport) EmitDataChannel(channel DataChannel) {
	t.lock.Lock()
	f := t.onDataChannel
	t.lock.Unlock()

	if f != nil {
		f(channel)
	}
}

func (t *MockTransport) Closed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.closed
}

func (t *MockTransport) Remote() *webrtc.SessionDescription {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.remote
}

func (t *MockTransport) Local() *webrtc.SessionDescription {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.local
}

func (t *MockTransport) Candidates() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]string, 0, len(t.candidates))
	for _, c := range t.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (t *MockTransport) Senders() []*MockSender {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]*MockSender(nil), t.senders...)
}

func (t *MockTransport) Channels() []*MockDataChannel {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]*MockDataChannel(nil), t.channels...)
}

// MockFactory hands out MockTransports. Configure prepares each one before use.
type MockFactory struct {
	Configure func(t *MockTransport)

	lock       sync.Mutex
	transports []*MockTransport
}

func (f *MockFactory) New() (Transport, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	t := &MockTransport{n: len(f.transports)}
	if f.Configure != nil {
		f.Configure(t)
	}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *MockFactory) Count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.transports)
}

func (f *MockFactory) Last() *MockTransport {
	f.lock.Lock()
	defer f.lock.Unlock()

	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

type relayed struct {
	Kind     string
	RemoteID string
	SDP      webrtc.SessionDescription
	ICE      webrtc.ICECandidateInit
}

type MockRelay struct {
	lock sync.Mutex
	sent []relayed
}

func (r *MockRelay) SendOffer(remoteID string, offer webrtc.SessionDescription) error {
	r.add(relayed{Kind: "offer", RemoteID: remoteID, SDP: offer})
	return nil
}

func (r *MockRelay) SendAnswer(remoteID string, answer webrtc.SessionDescription) error {
	r.add(relayed{Kind: "answer", RemoteID: remoteID, SDP: answer})
	return nil
}

func (r *MockRelay) SendICECandidate(remoteID string, candidate webrtc.ICECandidateInit) error {
	r.add(relayed{Kind: "ice_candidate", RemoteID: remoteID, ICE: candidate})
	return nil
}

func (r *MockRelay) add(msg relayed) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *MockRelay) Sent(kind string) []relayed {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]relayed, 0)
	for _, msg := range r.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type MockSink struct {
	lock      sync.Mutex
	available map[string][]string
	released  []string
}

func (s *MockSink) RemoteTrackAvailable(remoteID string, track RemoteTrack) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.available == nil {
		s.available = make(map[string][]string)
	}
	s.available[remoteID] = append(s.available[remoteID], track.ID())
}

func (s *MockSink) RemoteTracksReleased(remoteID string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.released = append(s.released, remoteID)
	delete(s.available, remoteID)
}

func (s *MockSink) Available(remoteID string) []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.available[remoteID]...)
}

func (s *MockSink) Released() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.released...)
}

// MockSource hands out static sample tracks
type MockSource struct {
	NoCamera   bool
	UserErr    error
	DisplayErr error

	lock   sync.Mutex
	tracks []*media.Track
}

func (s *MockSource) UserMedia(ctx context.Context) ([]*media.Track, error) {
	if s.UserErr != nil {
		return nil, s.UserErr
	}

	audio, err := media.NewSampleTrack(webrtc.MimeTypeOpus, "audio", "local")
	if err != nil {
		return nil, err
	}
	tracks := []*media.Track{audio}

	if !s.NoCamera {
		camera, err := media.NewSampleTrack(webrtc.MimeTypeVP8, "camera", "local")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, camera)
	}

	s.lock.Lock()
	s.tracks = append(s.tracks, tracks...)
	s.lock.Unlock()

	return tracks, nil
}

func (s *MockSource) DisplayMedia(ctx context.Context) (*media.Track, error) {
	if s.DisplayErr != nil {
		return nil, s.DisplayErr
	}

	screen, err := media.NewSampleTrack(webrtc.MimeTypeVP8, "screen", "local")
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	s.tracks = append(s.tracks, screen)
	s.lock.Unlock()

	return screen, nil
}

func (s *MockSource) Tracks() []*media.Track {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*media.Track(nil), s.tracks...)
}

type MockEvents struct {
	lock   sync.Mutex
	events []Event
}

func (e *MockEvents) Handle(event Event) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.events = append(e.events, event)
}

func (e *MockEvents) States(remoteID string) []LinkStateChanged {
	e.lock.Lock()
	defer e.lock.Unlock()

	out := make([]LinkStateChanged, 0)
	for _, event := range e.events {
		if changed, ok := event.(LinkStateChanged); ok && changed.RemoteID == remoteID {
			out = append(out, changed)
		}
	}
	return out
}

func (e *MockEvents) All() []Event {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]Event(nil), e.events...)
}

type fixture struct {
	manager *Manager
	factory *MockFactory
	relay   *MockRelay
	sink    *MockSink
	source  *MockSource
	events  *MockEvents
}

func newFixture(t *testing.T, localID string, configure func(*Options)) *fixture {
	f := &fixture{
		factory: &MockFactory{},
		relay:   &MockRelay{},
		sink:    &MockSink{},
		source:  &MockSource{},
		events:  &MockEvents{},
	}

	options := Options{
		LocalID:      localID,
		Relay:        f.relay,
		NewTransport: f.factory.New,
		Media:        f.source,
		Sink:         f.sink,
		RetryBackoff: 10 * time.Millisecond,
		MaxRetries:   3,
	}
	if configure != nil {
		configure(&options)
	}

	f.manager = NewManager(options)
	f.manager.Subscribe(f.events.Handle)
	t.Cleanup(func() { <-f.manager.CloseAll() })

	return f
}

func (f *fixture) link(t *testing.T, remoteID string) *PeerLink {
	link, ok := f.manager.Link(remoteID)
	require.True(t, ok, "no link for %s", remoteID)
	return link
}

func (f *fixture) transport(t *testing.T, remoteID string) *MockTransport {
	transport, ok := f.link(t, remoteID).transport.(*MockTransport)
	require.True(t, ok)
	return transport
}

func await(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation was not applied in time")
	}
}

func offer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

// offering reports whether the newest transport carries the current link and its offer
func (f *fixture) offering(remoteID string, transports int) bool {
	link, ok := f.manager.Link(remoteID)
	return ok && f.factory.Count() == transports && link.State() == StateOfferSent
}

// flush waits until everything already queued for remoteID has been applied
func (f *fixture) flush(t *testing.T, remoteID string) {
	await(t, f.manager.submit(remoteID, func() {}))
}

// connect drives an initiator link to Connected
func (f *fixture) connect(t *testing.T, remoteID string) *MockTransport {
	await(t, f.manager.OnExistingMembers([]string{remoteID}))
	await(t, f.manager.HandleAnswer(remoteID, answer("answer")))

	transport := f.transport(t, remoteID)
	transport.Connect()
	f.flush(t, remoteID)

	require.Equal(t, StateConnected, f.link(t, remoteID).State())
	return transport
}
