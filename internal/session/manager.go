package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/media"
	"github.com/isqad/livelook-mesh/internal/pubsub"
	"github.com/isqad/livelook-mesh/internal/telemetry"
)

var errConnectivityFailed = errors.New("transport connectivity failed")

type Options struct {
	LocalID      string
	Relay        Relay
	NewTransport TransportFactory
	Media        media.Source
	Sink         TrackSink
	// RetryBackoff is the pause before a failed link is rebuilt. MaxRetries caps consecutive attempts
	// per remote participant.
	RetryBackoff time.Duration
	MaxRetries   uint64
}

type retryState struct {
	policy backoff.BackOff
	timer  *time.Timer
}

// Manager drives one PeerLink per remote participant. Work for a remote participant runs on its own
// lane, so operations on one link never interleave while different links progress concurrently.
// Every operation returns at once; the returned channel is closed when the operation has been applied.
type Manager struct {
	localID      string
	relay        Relay
	newTransport TransportFactory
	source       media.Source
	sink         TrackSink
	retryBackoff time.Duration
	maxRetries   uint64

	events *pubsub.Bus[Event]

	lock        sync.Mutex
	links       map[string]*PeerLink
	lanes       map[string]*lane
	retries     map[string]*retryState
	unreachable map[string]struct{}
	closed      bool
	closeDone   chan struct{}

	mediaLock sync.Mutex
	audio     *media.Track
	camera    *media.Track
	screen    *media.Track
}

func NewManager(options Options) *Manager {
	sink := options.Sink
	if sink == nil {
		sink = nopSink{}
	}

	return &Manager{
		localID:      options.LocalID,
		relay:        options.Relay,
		newTransport: options.NewTransport,
		source:       options.Media,
		sink:         sink,
		retryBackoff: options.RetryBackoff,
		maxRetries:   options.MaxRetries,
		events:       pubsub.New[Event](),
		links:        make(map[string]*PeerLink),
		lanes:        make(map[string]*lane),
		retries:      make(map[string]*retryState),
		unreachable:  make(map[string]struct{}),
	}
}

func (m *Manager) LocalID() string {
	return m.localID
}

// Subscribe registers an event handler. Handlers run on the lane of the link concerned and must not
// block or wait for manager operations.
func (m *Manager) Subscribe(handler pubsub.Handler[Event]) pubsub.Dispose {
	return m.events.Subscribe(handler)
}

func (m *Manager) Link(remoteID string) (*PeerLink, bool) {
	link := m.link(remoteID)
	return link, link != nil
}

// RemoteIDs lists the remote participants with a link, sorted
func (m *Manager) RemoteIDs() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnExistingMembers makes this side the initiator towards every listed member
func (m *Manager) OnExistingMembers(ids []string) <-chan struct{} {
	chans := make([]<-chan struct{}, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == m.localID {
			continue
		}
		id := id
		chans = append(chans, m.submit(id, func() { m.discover(id, true) }))
	}
	return all(chans)
}

// OnPresenceAdd makes this side the responder towards a member that joined after us
func (m *Manager) OnPresenceAdd(id string) <-chan struct{} {
	if id == "" || id == m.localID {
		return closedChan()
	}
	return m.submit(id, func() { m.discover(id, false) })
}

func (m *Manager) OnPresenceRemove(id string) <-chan struct{} {
	return m.CloseLink(id)
}

func (m *Manager) HandleOffer(remoteID string, offer webrtc.SessionDescription) <-chan struct{} {
	return m.submit(remoteID, func() { m.handleOffer(remoteID, offer) })
}

func (m *Manager) HandleAnswer(remoteID string, answer webrtc.SessionDescription) <-chan struct{} {
	return m.submit(remoteID, func() { m.handleAnswer(remoteID, answer) })
}

func (m *Manager) HandleICECandidate(remoteID string, candidate webrtc.ICECandidateInit) <-chan struct{} {
	return m.submit(remoteID, func() { m.handleICECandidate(remoteID, candidate) })
}

func (m *Manager) CloseLink(remoteID string) <-chan struct{} {
	return m.submit(remoteID, func() { m.closeLink(remoteID) })
}

// Send writes to the reliable data channel of the link
func (m *Manager) Send(remoteID string, data []byte) error {
	link := m.link(remoteID)
	if link == nil {
		return ErrNoLink
	}

	channel := link.DataChannel()
	if channel == nil {
		return ErrNoDataChannel
	}
	return channel.Send(data)
}

// CloseAll closes every link, stops local media and cancels pending retries. Later calls return the
// channel of the first one.
func (m *Manager) CloseAll() <-chan struct{} {
	m.lock.Lock()
	if m.closed {
		done := m.closeDone
		m.lock.Unlock()
		return done
	}
	m.closed = true
	m.closeDone = make(chan struct{})
	done := m.closeDone

	ids := make([]string, 0, len(m.lanes))
	for id := range m.lanes {
		ids = append(ids, id)
	}
	for _, r := range m.retries {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	m.lock.Unlock()

	chans := make([]<-chan struct{}, 0, len(ids))
	for _, id := range ids {
		id := id
		chans = append(chans, m.submit(id, func() { m.closeLink(id) }))
	}

	go func() {
		defer close(done)
		<-all(chans)

		m.mediaLock.Lock()
		tracks := []*media.Track{m.audio, m.camera, m.screen}
		m.audio, m.camera, m.screen = nil, nil, nil
		m.mediaLock.Unlock()

		for _, track := range tracks {
			if track != nil {
				track.Stop()
			}
		}

		log.Info().Str("service", "session").Str("participant_id", m.localID).Msg("all peer links closed")
	}()

	return done
}

func (m *Manager) submit(remoteID string, fn func()) <-chan struct{} {
	m.lock.Lock()
	l, ok := m.lanes[remoteID]
	if !ok {
		l = &lane{}
		m.lanes[remoteID] = l
	}
	m.lock.Unlock()

	return l.submit(fn)
}

func (m *Manager) link(remoteID string) *PeerLink {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.links[remoteID]
}

func (m *Manager) isCurrent(link *PeerLink) bool {
	m.lock.Lock()
	current := m.links[link.remoteID] == link
	m.lock.Unlock()

	return current && link.State() != StateClosed
}

func (m *Manager) isClosed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.closed
}

func (m *Manager) discover(remoteID string, initiator bool) {
	m.forgetRetry(remoteID)

	m.lock.Lock()
	delete(m.unreachable, remoteID)
	m.lock.Unlock()

	link := m.replaceLink(remoteID, initiator)
	if link != nil && initiator {
		m.makeOffer(link)
	}
}

// replaceLink closes the current link, if any, and allocates a fresh one in New carrying the local tracks
func (m *Manager) replaceLink(remoteID string, initiator bool) *PeerLink {
	if old := m.link(remoteID); old != nil {
		m.teardown(old)
	}
	if m.isClosed() {
		return nil
	}

	transport, err := m.newTransport()
	if err != nil {
		telemetry.Operation("create_link", telemetry.StatusError, "transport")
		log.Error().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't create transport")
		return nil
	}

	link := newPeerLink(remoteID, initiator, transport)
	m.wire(link)
	m.attachLocalTracks(link)

	if initiator {
		channel, err := transport.CreateDataChannel(reliableChannelLabel)
		if err != nil {
			log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't create data channel")
		} else {
			m.bindDataChannel(link, channel)
		}
	}

	m.lock.Lock()
	m.links[remoteID] = link
	m.lock.Unlock()

	telemetry.PeerLinkOpened()
	telemetry.Operation("create_link", telemetry.StatusSuccess, "")
	log.Debug().
		Str("service", "session").
		Str("remote_id", remoteID).
		Bool("initiator", initiator).
		Msg("peer link created")

	return link
}

// wire routes transport callbacks onto the link's lane. Callbacks of a replaced link are ignored.
func (m *Manager) wire(link *PeerLink) {
	id := link.remoteID

	link.transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		m.submit(id, func() {
			if !m.isCurrent(link) {
				return
			}
			if err := m.relay.SendICECandidate(id, candidate); err != nil {
				log.Warn().Err(err).Str("service", "session").Str("remote_id", id).Msg("can't relay ICE candidate")
			}
		})
	})

	link.transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.submit(id, func() { m.onConnectionState(link, state) })
	})

	link.transport.OnTrack(func(track RemoteTrack) {
		m.submit(id, func() { m.onRemoteTrack(link, track) })
	})

	link.transport.OnDataChannel(func(channel DataChannel) {
		m.submit(id, func() {
			if m.isCurrent(link) {
				m.bindDataChannel(link, channel)
			}
		})
	})
}

func (m *Manager) bindDataChannel(link *PeerLink, channel DataChannel) {
	if !link.setDataChannel(channel) {
		return
	}

	channel.OnMessage(func(data []byte) {
		if m.isCurrent(link) {
			m.events.Publish(DataReceived{RemoteID: link.remoteID, Data: data})
		}
	})
}

func (m *Manager) makeOffer(link *PeerLink) {
	if link.State() != StateNew {
		log.Debug().Str("service", "session").Str("remote_id", link.remoteID).Msg("offer is only made from new")
		return
	}

	offer, err := link.transport.CreateOffer()
	if err != nil {
		m.fail(link, "create_offer", err)
		return
	}
	if err := link.setLocalDescription(offer); err != nil {
		m.fail(link, "set_local_description", err)
		return
	}
	if !m.transition(link, StateOfferSent) {
		return
	}

	if err := m.relay.SendOffer(link.remoteID, offer); err != nil {
		log.Warn().Err(err).Str("service", "session").Str("remote_id", link.remoteID).Msg("can't relay offer")
	}
	telemetry.Operation("offer", telemetry.StatusSuccess, "")
}

func (m *Manager) handleOffer(remoteID string, offer webrtc.SessionDescription) {
	if m.isClosed() {
		return
	}

	m.lock.Lock()
	_, unreachable := m.unreachable[remoteID]
	m.lock.Unlock()
	if unreachable {
		telemetry.Operation("answer", telemetry.StatusDropped, "unreachable")
		return
	}

	link := m.link(remoteID)
	switch {
	case link == nil:
		link = m.replaceLink(remoteID, false)
	case link.State() == StateNew:
	case link.State() == StateOfferSent && m.localID > remoteID:
		// glare: the greater participant id keeps its own offer
		telemetry.Operation("answer", telemetry.StatusDropped, "glare")
		log.Debug().Str("service", "session").Str("remote_id", remoteID).Msg("glare, keeping local offer")
		return
	default:
		// glare lost, or the remote side restarted its session
		link = m.replaceLink(remoteID, false)
	}
	if link == nil {
		return
	}

	if !m.transition(link, StateOfferReceived) {
		return
	}
	if err := link.setRemoteDescription(offer); err != nil {
		m.fail(link, "set_remote_description", err)
		return
	}
	if !m.transition(link, StateNegotiating) {
		return
	}
	m.flushCandidates(link)

	answer, err := link.transport.CreateAnswer()
	if err != nil {
		m.fail(link, "create_answer", err)
		return
	}
	if err := link.setLocalDescription(answer); err != nil {
		m.fail(link, "set_local_description", err)
		return
	}

	if err := m.relay.SendAnswer(remoteID, answer); err != nil {
		log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't relay answer")
	}
	telemetry.Operation("answer", telemetry.StatusSuccess, "")
}

func (m *Manager) handleAnswer(remoteID string, answer webrtc.SessionDescription) {
	link := m.link(remoteID)
	if link == nil || link.State() != StateOfferSent {
		telemetry.Operation("accept_answer", telemetry.StatusDropped, "unexpected")
		log.Debug().Str("service", "session").Str("remote_id", remoteID).Msg("drop unexpected answer")
		return
	}

	if err := link.setRemoteDescription(answer); err != nil {
		m.fail(link, "set_remote_description", err)
		return
	}
	if !m.transition(link, StateNegotiating) {
		return
	}
	m.flushCandidates(link)

	telemetry.Operation("accept_answer", telemetry.StatusSuccess, "")
}

func (m *Manager) handleICECandidate(remoteID string, candidate webrtc.ICECandidateInit) {
	link := m.link(remoteID)
	if link == nil || link.State() == StateClosed {
		telemetry.Operation("ice_candidate", telemetry.StatusDropped, "no_link")
		return
	}

	applied, err := link.addICECandidate(candidate)
	if err != nil {
		log.Warn().Err(err).Str("service", "session").Str("remote_id", remoteID).Msg("can't add ICE candidate")
		return
	}
	if !applied {
		log.Debug().Str("service", "session").Str("remote_id", remoteID).Msg("ICE candidate queued")
	}
}

func (m *Manager) flushCandidates(link *PeerLink) {
	for _, err := range link.flushCandidates() {
		log.Warn().Err(err).Str("service", "session").Str("remote_id", link.remoteID).Msg("can't add queued ICE candidate")
	}
}

func (m *Manager) onConnectionState(link *PeerLink, state webrtc.PeerConnectionState) {
	if !m.isCurrent(link) {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if m.transition(link, StateConnected) {
			m.resetRetry(link.remoteID)
			log.Info().Str("service", "session").Str("remote_id", link.remoteID).Msg("peer link connected")
		}
	case webrtc.PeerConnectionStateFailed:
		m.fail(link, "connectivity", errConnectivityFailed)
	}
}

func (m *Manager) onRemoteTrack(link *PeerLink, track RemoteTrack) {
	if !m.isCurrent(link) {
		return
	}

	link.addRemoteTrack(track)
	m.sink.RemoteTrackAvailable(link.remoteID, track)
	m.events.Publish(RemoteTrackAdded{RemoteID: link.remoteID, Track: track})
}

func (m *Manager) transition(link *PeerLink, to State) bool {
	from, ok := link.setState(to)
	if !ok {
		log.Debug().
			Err(ErrInvalidTransition).
			Str("service", "session").
			Str("remote_id", link.remoteID).
			Stringer("from", from).
			Stringer("to", to).
			Msg("transition rejected")
		return false
	}

	log.Debug().
		Str("service", "session").
		Str("remote_id", link.remoteID).
		Stringer("from", from).
		Stringer("to", to).
		Msg("peer link state changed")
	m.events.Publish(LinkStateChanged{RemoteID: link.remoteID, From: from, To: to})

	return true
}

// fail moves the link to Failed and schedules its recovery
func (m *Manager) fail(link *PeerLink, op string, err error) {
	nerr := &NegotiationError{RemoteID: link.remoteID, Op: op, Err: err}
	telemetry.Operation("negotiation", telemetry.StatusError, op)
	log.Error().Err(nerr).Str("service", "session").Str("remote_id", link.remoteID).Msg("peer link failed")

	if !m.transition(link, StateFailed) {
		return
	}
	m.scheduleRetry(link)
}

func (m *Manager) scheduleRetry(link *PeerLink) {
	id := link.remoteID

	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return
	}

	r, ok := m.retries[id]
	if !ok {
		r = &retryState{
			policy: backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryBackoff), m.maxRetries),
		}
		m.retries[id] = r
	}

	next := r.policy.NextBackOff()
	if next == backoff.Stop {
		m.lock.Unlock()
		m.giveUp(link)
		return
	}

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(next, func() {
		m.submit(id, func() { m.retry(link) })
	})
	m.lock.Unlock()

	log.Info().Str("service", "session").Str("remote_id", id).Dur("backoff", next).Msg("peer link retry scheduled")
}

// retry rebuilds a failed link with the same role. A responder waits for the initiator's next offer.
func (m *Manager) retry(failed *PeerLink) {
	if !m.isCurrent(failed) || failed.State() != StateFailed {
		return
	}

	telemetry.Operation("retry", telemetry.StatusSuccess, "")

	link := m.replaceLink(failed.remoteID, failed.initiator)
	if link != nil && link.initiator {
		m.makeOffer(link)
	}
}

func (m *Manager) giveUp(link *PeerLink) {
	id := link.remoteID
	m.closeLink(id)

	m.lock.Lock()
	m.unreachable[id] = struct{}{}
	m.lock.Unlock()

	telemetry.Operation("retry", telemetry.StatusError, "exhausted")
	log.Warn().Str("service", "session").Str("remote_id", id).Msg("peer is unreachable")

	m.events.Publish(PeerUnreachable{RemoteID: id})
}

func (m *Manager) resetRetry(remoteID string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if r, ok := m.retries[remoteID]; ok {
		r.policy.Reset()
	}
}

func (m *Manager) forgetRetry(remoteID string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if r, ok := m.retries[remoteID]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(m.retries, remoteID)
	}
}

func (m *Manager) closeLink(remoteID string) {
	if link := m.link(remoteID); link != nil {
		m.teardown(link)
	}
	m.forgetRetry(remoteID)
}

// teardown closes the link and tells the sink its remote tracks are gone
func (m *Manager) teardown(link *PeerLink) {
	m.transition(link, StateClosed)

	if err := link.release(); err != nil {
		log.Warn().Err(err).Str("service", "session").Str("remote_id", link.remoteID).Msg("can't close transport")
	}

	m.lock.Lock()
	removed := m.links[link.remoteID] == link
	if removed {
		delete(m.links, link.remoteID)
	}
	m.lock.Unlock()

	if removed {
		telemetry.PeerLinkClosed()
	}
	m.sink.RemoteTracksReleased(link.remoteID)
}
