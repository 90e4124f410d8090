package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistingMembersMakesInitiator(t *testing.T) {
	f := newFixture(t, "C", nil)

	await(t, f.manager.OnExistingMembers([]string{"A", "B", "C", ""}))

	assert.Equal(t, []string{"A", "B"}, f.manager.RemoteIDs())

	offers := f.relay.Sent("offer")
	require.Len(t, offers, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{offers[0].RemoteID, offers[1].RemoteID})

	for _, id := range []string{"A", "B"} {
		link := f.link(t, id)
		assert.True(t, link.Initiator())
		assert.Equal(t, StateOfferSent, link.State())
		assert.Equal(t, webrtc.SDPTypeOffer, link.LocalDescription().Type)

		channel := link.DataChannel()
		require.NotNil(t, channel)
		assert.Equal(t, "_reliable", channel.Label())
	}
}

func TestPresenceAddMakesResponder(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnPresenceAdd("B"))
	await(t, f.manager.OnPresenceAdd("A"))

	link := f.link(t, "B")
	assert.False(t, link.Initiator())
	assert.Equal(t, StateNew, link.State())
	assert.Nil(t, link.DataChannel())
	assert.Empty(t, f.relay.Sent("offer"))
	assert.Equal(t, []string{"B"}, f.manager.RemoteIDs())
}

func TestHandleOfferAnswers(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.OnPresenceAdd("A"))
	transport := f.transport(t, "A")

	await(t, f.manager.HandleOffer("A", offer("from-a")))

	link := f.link(t, "A")
	assert.Equal(t, StateNegotiating, link.State())
	assert.Same(t, transport, link.transport)
	assert.Equal(t, "from-a", transport.Remote().SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, transport.Local().Type)

	answers := f.relay.Sent("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, "A", answers[0].RemoteID)
	assert.Equal(t, transport.Local().SDP, answers[0].SDP.SDP)

	var path []State
	for _, changed := range f.events.States("A") {
		path = append(path, changed.To)
	}
	assert.Equal(t, []State{StateOfferReceived, StateNegotiating}, path)
}

func TestHandleOfferWithoutLinkCreatesOne(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.HandleOffer("A", offer("from-a")))

	link := f.link(t, "A")
	assert.False(t, link.Initiator())
	assert.Equal(t, StateNegotiating, link.State())
	assert.Len(t, f.relay.Sent("answer"), 1)
}

func TestAnswerThenConnectivity(t *testing.T) {
	f := newFixture(t, "A", nil)

	f.connect(t, "B")

	var path []State
	for _, changed := range f.events.States("B") {
		path = append(path, changed.To)
	}
	assert.Equal(t, []State{StateOfferSent, StateNegotiating, StateConnected}, path)
	assert.Equal(t, "answer", f.transport(t, "B").Remote().SDP)
}

func TestUnexpectedAnswerIsDropped(t *testing.T) {
	f := newFixture(t, "A", nil)

	// no link at all
	await(t, f.manager.HandleAnswer("B", answer("late")))
	_, ok := f.manager.Link("B")
	assert.False(t, ok)

	// responder link still waiting for an offer
	await(t, f.manager.OnPresenceAdd("B"))
	await(t, f.manager.HandleAnswer("B", answer("unexpected")))
	assert.Equal(t, StateNew, f.link(t, "B").State())
	assert.Nil(t, f.transport(t, "B").Remote())
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.OnPresenceAdd("A"))
	for _, c := range []string{"c1", "c2", "c3"} {
		f.manager.HandleICECandidate("A", webrtc.ICECandidateInit{Candidate: c})
	}
	f.flush(t, "A")

	link := f.link(t, "A")
	transport := f.transport(t, "A")
	assert.Equal(t, 3, link.PendingCandidates())
	assert.Empty(t, transport.Candidates())

	await(t, f.manager.HandleOffer("A", offer("from-a")))
	assert.Equal(t, []string{"c1", "c2", "c3"}, transport.Candidates())
	assert.Equal(t, 0, link.PendingCandidates())

	await(t, f.manager.HandleICECandidate("A", webrtc.ICECandidateInit{Candidate: "c4"}))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, transport.Candidates())
}

func TestCandidatesQueueForInitiatorUntilAnswer(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	f.manager.HandleICECandidate("B", webrtc.ICECandidateInit{Candidate: "early"})
	await(t, f.manager.HandleAnswer("B", answer("from-b")))

	assert.Equal(t, []string{"early"}, f.transport(t, "B").Candidates())
}

func TestCandidateWithoutLinkIsDropped(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.HandleICECandidate("B", webrtc.ICECandidateInit{Candidate: "c1"}))

	_, ok := f.manager.Link("B")
	assert.False(t, ok)
	assert.Equal(t, 0, f.factory.Count())
}

func TestLocalCandidatesAreRelayedAfterOffer(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	f.transport(t, "B").EmitCandidate("local-1")
	f.flush(t, "B")

	candidates := f.relay.Sent("ice_candidate")
	require.Len(t, candidates, 1)
	assert.Equal(t, "B", candidates[0].RemoteID)
	assert.Equal(t, "local-1", candidates[0].ICE.Candidate)
}

func TestGlareGreaterIDKeepsItsOffer(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.OnExistingMembers([]string{"A"}))
	link := f.link(t, "A")

	await(t, f.manager.HandleOffer("A", offer("from-a")))

	assert.Same(t, link, f.link(t, "A"))
	assert.Equal(t, StateOfferSent, link.State())
	assert.Empty(t, f.relay.Sent("answer"))
	assert.Equal(t, 1, f.factory.Count())
}

func TestGlareSmallerIDAnswers(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	first := f.transport(t, "B")

	await(t, f.manager.HandleOffer("B", offer("from-b")))

	link := f.link(t, "B")
	assert.True(t, first.Closed())
	assert.NotSame(t, first, link.transport)
	assert.False(t, link.Initiator())
	assert.Equal(t, StateNegotiating, link.State())
	assert.Len(t, f.relay.Sent("answer"), 1)
}

func TestOfferOnNegotiatedLinkReplacesIt(t *testing.T) {
	f := newFixture(t, "A", nil)

	first := f.connect(t, "B")

	await(t, f.manager.HandleOffer("B", offer("restart")))

	link := f.link(t, "B")
	assert.True(t, first.Closed())
	assert.Equal(t, StateNegotiating, link.State())
	assert.Equal(t, "restart", link.transport.(*MockTransport).Remote().SDP)

	for _, changed := range f.events.States("B") {
		assert.False(t, changed.From == StateConnected && changed.To == StateOfferSent)
	}
}

func TestClosedLinkIgnoresLateMessages(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	transport := f.transport(t, "B")
	await(t, f.manager.CloseLink("B"))

	await(t, f.manager.HandleAnswer("B", answer("late")))
	await(t, f.manager.HandleICECandidate("B", webrtc.ICECandidateInit{Candidate: "late"}))
	transport.Connect()
	f.flush(t, "B")

	_, ok := f.manager.Link("B")
	assert.False(t, ok)
	assert.Nil(t, transport.Remote())
	assert.Empty(t, transport.Candidates())
}

func TestFailedLinkIsRebuiltWithSameRole(t *testing.T) {
	f := newFixture(t, "A", nil)

	first := f.connect(t, "B")
	first.Fail()

	assert.Eventually(t, func() bool {
		link, ok := f.manager.Link("B")
		return ok && link.transport != Transport(first) && link.State() == StateOfferSent
	}, time.Second, 5*time.Millisecond)

	assert.True(t, first.Closed())
	assert.True(t, f.link(t, "B").Initiator())
	assert.Len(t, f.relay.Sent("offer"), 2)

	for _, changed := range f.events.States("B") {
		assert.False(t, changed.From == StateConnected && changed.To == StateOfferSent)
	}
}

func TestFailedResponderWaitsForOffer(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.HandleOffer("A", offer("from-a")))
	first := f.transport(t, "A")
	first.Fail()

	assert.Eventually(t, func() bool {
		link, ok := f.manager.Link("A")
		return ok && link.transport != Transport(first) && link.State() == StateNew
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.relay.Sent("offer"))
}

func TestRetriesAreCapped(t *testing.T) {
	f := newFixture(t, "A", func(o *Options) { o.MaxRetries = 2 })

	await(t, f.manager.OnExistingMembers([]string{"B"}))

	// three consecutive failures: two rebuilds, then the peer is given up
	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool { return f.offering("B", attempt) }, time.Second, 5*time.Millisecond)
		f.factory.Last().Fail()
		f.flush(t, "B")
	}

	assert.Eventually(t, func() bool {
		_, ok := f.manager.Link("B")
		return !ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, f.factory.Count())
	assert.True(t, f.factory.Last().Closed())

	var unreachable []string
	for _, event := range f.events.All() {
		if e, ok := event.(PeerUnreachable); ok {
			unreachable = append(unreachable, e.RemoteID)
		}
	}
	assert.Equal(t, []string{"B"}, unreachable)

	// further offers from the unreachable peer are ignored until it is discovered again
	await(t, f.manager.HandleOffer("B", offer("again")))
	_, ok := f.manager.Link("B")
	assert.False(t, ok)

	await(t, f.manager.OnPresenceAdd("B"))
	await(t, f.manager.HandleOffer("B", offer("again")))
	assert.Equal(t, StateNegotiating, f.link(t, "B").State())
}

func TestZeroRetriesGivesUpAtOnce(t *testing.T) {
	f := newFixture(t, "A", func(o *Options) { o.MaxRetries = 0 })

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	f.transport(t, "B").Fail()
	f.flush(t, "B")

	_, ok := f.manager.Link("B")
	assert.False(t, ok)
	assert.Equal(t, 1, f.factory.Count())
}

func TestConnectivityResetsRetryBudget(t *testing.T) {
	f := newFixture(t, "A", func(o *Options) { o.MaxRetries = 1 })

	first := f.connect(t, "B")
	first.Fail()

	require.Eventually(t, func() bool { return f.offering("B", 2) }, time.Second, 5*time.Millisecond)
	await(t, f.manager.HandleAnswer("B", answer("second")))
	second := f.factory.Last()
	second.Connect()
	f.flush(t, "B")
	require.Equal(t, StateConnected, f.link(t, "B").State())

	second.Fail()
	assert.Eventually(t, func() bool { return f.offering("B", 3) }, time.Second, 5*time.Millisecond)
}

func TestNegotiationErrorFailsLink(t *testing.T) {
	f := newFixture(t, "B", func(o *Options) { o.RetryBackoff = time.Hour })
	f.factory.Configure = func(t *MockTransport) {
		t.SetRemoteErr = errors.New("bad sdp")
	}

	await(t, f.manager.HandleOffer("A", offer("broken")))

	link := f.link(t, "A")
	assert.Equal(t, StateFailed, link.State())
	assert.Empty(t, f.relay.Sent("answer"))

	var path []State
	for _, changed := range f.events.States("A") {
		path = append(path, changed.To)
	}
	assert.Equal(t, []State{StateOfferReceived, StateFailed}, path)
}

func TestOfferCreationErrorFailsLink(t *testing.T) {
	f := newFixture(t, "A", func(o *Options) { o.RetryBackoff = time.Hour })
	f.factory.Configure = func(t *MockTransport) {
		t.OfferErr = errors.New("no codecs")
	}

	await(t, f.manager.OnExistingMembers([]string{"B"}))

	assert.Equal(t, StateFailed, f.link(t, "B").State())
	assert.Empty(t, f.relay.Sent("offer"))
}

func TestStaleRetryIsNoop(t *testing.T) {
	f := newFixture(t, "A", func(o *Options) { o.RetryBackoff = 20 * time.Millisecond })

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	f.transport(t, "B").Fail()
	f.flush(t, "B")
	await(t, f.manager.CloseLink("B"))

	time.Sleep(60 * time.Millisecond)
	f.flush(t, "B")

	_, ok := f.manager.Link("B")
	assert.False(t, ok)
	assert.Equal(t, 1, f.factory.Count())
}

func TestCloseLinkReleasesEverything(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.OnPresenceAdd("A"))
	f.manager.HandleICECandidate("A", webrtc.ICECandidateInit{Candidate: "queued"})
	transport := f.transport(t, "A")
	transport.EmitTrack(&MockRemoteTrack{id: "a-video", kind: webrtc.RTPCodecTypeVideo})
	f.flush(t, "A")

	link := f.link(t, "A")
	assert.Equal(t, []string{"a-video"}, f.sink.Available("A"))
	require.Len(t, link.RemoteTracks(), 1)

	await(t, f.manager.OnPresenceRemove("A"))

	_, ok := f.manager.Link("A")
	assert.False(t, ok)
	assert.True(t, transport.Closed())
	assert.Equal(t, StateClosed, link.State())
	assert.Equal(t, 0, link.PendingCandidates())
	assert.Empty(t, link.RemoteTracks())
	assert.Equal(t, []string{"A"}, f.sink.Released())
	assert.Empty(t, f.sink.Available("A"))
}

func TestCloseAllIsIdempotent(t *testing.T) {
	f := newFixture(t, "A", nil)

	require.Nil(t, f.manager.StartMedia(context.Background()))
	await(t, f.manager.OnExistingMembers([]string{"B"}))
	await(t, f.manager.OnPresenceAdd("C"))
	b, c := f.transport(t, "B"), f.transport(t, "C")

	first := f.manager.CloseAll()
	second := f.manager.CloseAll()
	await(t, first)
	await(t, second)

	assert.Empty(t, f.manager.RemoteIDs())
	assert.True(t, b.Closed())
	assert.True(t, c.Closed())
	for _, track := range f.source.Tracks() {
		assert.True(t, track.IsEnded(), track.ID())
	}
	audio, video := f.manager.LocalTracks()
	assert.Nil(t, audio)
	assert.Nil(t, video)

	await(t, f.manager.OnExistingMembers([]string{"D"}))
	assert.Empty(t, f.manager.RemoteIDs())
	assert.Equal(t, ErrManagerClosed, f.manager.StartMedia(context.Background()))
}

func TestDataChannel(t *testing.T) {
	f := newFixture(t, "A", nil)

	await(t, f.manager.OnExistingMembers([]string{"B"}))
	channel := f.transport(t, "B").Channels()[0]

	require.Nil(t, f.manager.Send("B", []byte("hello")))
	assert.Equal(t, [][]byte{[]byte("hello")}, channel.Sent())

	channel.Receive([]byte("hi"))

	var received []DataReceived
	for _, event := range f.events.All() {
		if e, ok := event.(DataReceived); ok {
			received = append(received, e)
		}
	}
	require.Len(t, received, 1)
	assert.Equal(t, DataReceived{RemoteID: "B", Data: []byte("hi")}, received[0])

	assert.Equal(t, ErrNoLink, f.manager.Send("C", []byte("x")))
}

func TestResponderAdoptsRemoteDataChannel(t *testing.T) {
	f := newFixture(t, "B", nil)

	await(t, f.manager.OnPresenceAdd("A"))
	assert.Equal(t, ErrNoDataChannel, f.manager.Send("A", []byte("x")))

	remote := &MockDataChannel{label: "_reliable"}
	f.transport(t, "A").EmitDataChannel(remote)
	f.flush(t, "A")

	require.Nil(t, f.manager.Send("A", []byte("x")))
	assert.Len(t, remote.Sent(), 1)
}

func TestSubscriptionDisposer(t *testing.T) {
	f := newFixture(t, "A", nil)

	events := &MockEvents{}
	dispose := f.manager.Subscribe(events.Handle)
	await(t, f.manager.OnExistingMembers([]string{"B"}))
	dispose()
	dispose()
	await(t, f.manager.HandleAnswer("B", answer("x")))

	require.Len(t, events.States("B"), 1)
	assert.Equal(t, StateOfferSent, events.States("B")[0].To)
}
