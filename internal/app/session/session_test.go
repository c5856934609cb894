package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/app/mixer"
	"github.com/dkeye/Conference/internal/app/peer"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

const room domain.RoomName = "r1"

func joined(id domain.ParticipantID) protocol.Event {
	return protocol.Event{Kind: protocol.EventJoined, Room: room, Participant: id}
}

func message(from domain.ParticipantID, p protocol.Payload) protocol.Event {
	return protocol.Event{Kind: protocol.EventMessage, Room: room, Participant: from, Payload: p}
}

func offer(from domain.ParticipantID) protocol.Event {
	return message(from, protocol.Description{Type: protocol.SDPOffer, SDP: "o"})
}

type fixture struct {
	s       *Session
	ch      *coretest.Channel
	factory *coretest.Factory
}

func start(t *testing.T, cfg Config, ch *coretest.Channel) *fixture {
	t.Helper()
	f := &fixture{ch: ch, factory: coretest.NewFactory()}
	cfg.Room = room
	cfg.Channel = ch
	cfg.Transports = f.factory
	f.s = New(cfg)
	require.NoError(t, f.s.Start(context.Background()))
	t.Cleanup(f.s.Leave)
	return f
}

// connect makes each member join and offer to the session.
func (f *fixture) connect(ids ...domain.ParticipantID) {
	for _, id := range ids {
		f.s.Deliver(joined(id))
		f.s.Deliver(offer(id))
	}
	f.s.Sync()
}

func (f *fixture) publish(from domain.ParticipantID, st *domain.Stream) {
	f.factory.Get(from).EmitStream(st)
	f.s.Sync()
}

func captured(st *domain.Stream) CaptureFunc {
	return func(context.Context) (*domain.Stream, error) { return st, nil }
}

func TestStartCallsExistingMembers(t *testing.T) {
	f := start(t, Config{Topology: domain.TopologyMesh, Capture: captured(coretest.NewAVStream())},
		coretest.NewChannel("me", "a", "b"))

	for _, id := range []domain.ParticipantID{"a", "b"} {
		tr := f.factory.Get(id)
		require.NotNil(t, tr, id)
		require.Equal(t, 1, tr.Offers())
		require.True(t, f.s.Link(id).Initiator())
	}
	sent := f.ch.Sent()
	require.Equal(t, protocol.GotUserMedia{}, sent[len(sent)-1].Payload)
	require.Empty(t, sent[len(sent)-1].To)
}

func TestJoinedCreatesReceivingLink(t *testing.T) {
	f := start(t, Config{Topology: domain.TopologyMesh}, coretest.NewChannel("me"))
	f.s.Deliver(joined("late"))
	f.s.Deliver(joined("me"))
	f.s.Sync()

	l := f.s.Link("late")
	require.NotNil(t, l)
	require.False(t, l.Initiator())
	require.Equal(t, peer.StateNew, l.State())
	require.Nil(t, f.s.Link("me"))

	f.s.Deliver(message("late", protocol.GotUserMedia{}))
	f.s.Sync()
	require.Equal(t, peer.StateNegotiating, l.State())
	require.Zero(t, f.factory.Get("late").Offers())
}

func TestStartRoomFull(t *testing.T) {
	ch := coretest.NewChannel("me")
	ch.Err = domain.ErrRoomFull
	local := coretest.NewAVStream()
	s := New(Config{Room: room, Role: domain.RoleCentralUnit, Topology: domain.TopologyStar,
		Channel: ch, Transports: coretest.NewFactory(), Capture: captured(local)})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrRoomFull)
	require.True(t, coretest.Stopped(local))
	require.Empty(t, ch.Sent())
	require.ErrorIs(t, s.Start(context.Background()), ErrStarted)
}

func TestStartMediaAcquisitionFailure(t *testing.T) {
	ch := coretest.NewChannel("me")
	s := New(Config{Room: room, Topology: domain.TopologyMesh, Channel: ch, Transports: coretest.NewFactory(),
		Capture: func(context.Context) (*domain.Stream, error) { return nil, errors.New("no camera") }})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrMediaAcquisition)
	require.Empty(t, ch.Joined())
}

func TestMessagesFromUnlinkedMembersDropped(t *testing.T) {
	f := start(t, Config{Topology: domain.TopologyMesh}, coretest.NewChannel("me"))
	f.s.Deliver(message("ghost", protocol.Description{Type: protocol.SDPAnswer, SDP: "a"}))
	f.s.Deliver(message("ghost", protocol.Candidate{Candidate: "c"}))
	f.s.Deliver(message("ghost", protocol.Bye{}))
	f.s.Deliver(message("ghost", protocol.Unknown{Raw: []byte(`{"type":"nope"}`)}))
	f.s.Sync()

	require.Empty(t, f.s.Members())
	require.Zero(t, f.factory.Created())
}

func TestSFUForwardsEachStreamOnce(t *testing.T) {
	f := start(t, Config{Role: domain.RoleCentralUnit, Topology: domain.TopologySFU}, coretest.NewChannel("hub"))
	f.connect("a", "b", "c")

	sa := coretest.NewAVStream()
	f.publish("a", sa)
	f.publish("a", sa)
	// b echoing a's stream id is a known stream
	f.publish("b", sa)

	require.Empty(t, f.factory.Get("a").TracksOf(sa.ID))
	for _, id := range []domain.ParticipantID{"b", "c"} {
		tr := f.factory.Get(id)
		require.Len(t, tr.TracksOf(sa.ID), 2, id)
		require.Equal(t, 1, tr.Offers(), id)
	}
	require.Equal(t, []string{sa.ID}, f.s.Streams())
}

func TestSFUStreamsRemovedOnLeave(t *testing.T) {
	f := start(t, Config{Role: domain.RoleCentralUnit, Topology: domain.TopologySFU}, coretest.NewChannel("hub"))
	f.connect("a", "b", "c")

	sa, sb := coretest.NewAVStream(), coretest.NewAVStream()
	f.publish("a", sa)
	f.publish("b", sb)

	f.s.Deliver(message("a", protocol.Bye{}))
	f.s.Sync()

	require.Nil(t, f.s.Link("a"))
	require.True(t, coretest.Stopped(sa))
	require.True(t, f.factory.Get("a").Closed())
	for _, id := range []domain.ParticipantID{"b", "c"} {
		require.Contains(t, f.ch.SentTo(id), protocol.Payload(protocol.StreamsRemoved{Streams: []string{sa.ID}}), id)
	}
	require.Equal(t, []string{sb.ID}, f.s.Streams())

	// a late member receives what is still published
	f.connect("d")
	require.Len(t, f.factory.Get("d").TracksOf(sb.ID), 2)
	require.Empty(t, f.factory.Get("d").TracksOf(sa.ID))
}

func TestSideUnitStopsRemovedStreams(t *testing.T) {
	f := start(t, Config{Role: domain.RoleSideUnit, Topology: domain.TopologySFU}, coretest.NewChannel("me", "hub"))

	sx := coretest.NewAVStream()
	f.publish("hub", sx)
	require.Equal(t, []string{sx.ID}, f.s.Streams())
	// side units never forward
	require.Empty(t, f.factory.Get("hub").TracksOf(sx.ID))

	f.s.Deliver(message("hub", protocol.StreamsRemoved{Streams: []string{sx.ID}}))
	f.s.Sync()
	require.True(t, coretest.Stopped(sx))
	require.Empty(t, f.s.Streams())
}

func TestStarCentralUnitForwards(t *testing.T) {
	local := coretest.NewAVStream()
	f := start(t, Config{Role: domain.RoleCentralUnit, Topology: domain.TopologyStar, Capture: captured(local)},
		coretest.NewChannel("center"))
	f.connect("a", "b")

	sa := coretest.NewAVStream()
	f.publish("a", sa)

	require.Len(t, f.factory.Get("a").TracksOf(local.ID), 2)
	require.Len(t, f.factory.Get("b").TracksOf(local.ID), 2)
	require.Len(t, f.factory.Get("b").TracksOf(sa.ID), 2)

	// star removal relies on the transport, no explicit message
	f.s.Deliver(message("a", protocol.Bye{}))
	f.s.Sync()
	for _, s := range f.ch.SentTo("b") {
		require.NotEqual(t, "streams removed", protocol.Kind(s))
	}
}

func TestMeshDoesNotForward(t *testing.T) {
	f := start(t, Config{Topology: domain.TopologyMesh}, coretest.NewChannel("me"))
	f.connect("a", "b")
	sa := coretest.NewAVStream()
	f.publish("a", sa)
	require.Empty(t, f.factory.Get("b").TracksOf(sa.ID))
}

type mixParticipant struct {
	video  *mixer.FrameSource
	stream *domain.Stream
}

func newMixParticipant() *mixParticipant {
	p := &mixParticipant{video: mixer.NewFrameSource()}
	p.stream = domain.NewStream(p.video.CreateTrack(), mixer.NewSampleSource().CreateTrack())
	return p
}

func TestMCUComposite(t *testing.T) {
	const w, h = 8, 6
	f := start(t, Config{
		Role:     domain.RoleCentralUnit,
		Topology: domain.TopologyMCU,
		Mixer:    mixer.Options{TileWidth: w, TileHeight: h, FrameInterval: time.Millisecond},
	}, coretest.NewChannel("mcu"))
	f.connect("p1", "p2")

	m := f.s.Mixer()
	require.NotNil(t, m)
	mixed := m.MixedStream()

	var (
		mu   sync.Mutex
		last mixer.VideoFrame
	)
	mixed.VideoTracks()[0].(mixer.FrameTrack).Subscribe(func(fr mixer.VideoFrame) {
		mu.Lock()
		last = fr
		mu.Unlock()
	})
	canvasIs := func(cw, ch int) func() bool {
		return func() bool {
			m.Tick()
			mu.Lock()
			defer mu.Unlock()
			return last.Width == cw && last.Height == ch
		}
	}

	p1, p2, p3 := newMixParticipant(), newMixParticipant(), newMixParticipant()
	f.publish("p1", p1.stream)
	require.False(t, m.Running())
	require.Empty(t, f.factory.Get("p1").TracksOf(mixed.ID))

	f.publish("p2", p2.stream)
	require.True(t, m.Running())
	require.Len(t, f.factory.Get("p1").TracksOf(mixed.ID), 2)
	require.Len(t, f.factory.Get("p2").TracksOf(mixed.ID), 2)

	require.Eventually(t, canvasIs(2*w, h), time.Second, 5*time.Millisecond)

	f.connect("p3")
	f.publish("p3", p3.stream)
	require.Equal(t, []string{p1.stream.ID, p2.stream.ID, p3.stream.ID}, m.SlotStreams())
	require.Len(t, f.factory.Get("p3").TracksOf(mixed.ID), 2)
	// earlier links got the composite exactly once
	require.Len(t, f.factory.Get("p1").TracksOf(mixed.ID), 2)

	// p3 sits in tile 2: column 0, row 1
	require.Equal(t, image.Rect(0, h, w, 2*h), mixer.TileRect(2, w, h))
	require.Eventually(t, canvasIs(2*w, 2*h), time.Second, 5*time.Millisecond)

	// removal below two contributors suppresses the composite, zero releases it
	f.s.Deliver(message("p3", protocol.Bye{}))
	f.s.Deliver(message("p2", protocol.Bye{}))
	f.s.Sync()
	require.Equal(t, []string{p1.stream.ID}, m.SlotStreams())
	f.s.Deliver(message("p1", protocol.Bye{}))
	f.s.Sync()
	require.False(t, m.Running())
	require.Zero(t, m.StreamCount())
}

func TestMCUHostMutesOwnAudio(t *testing.T) {
	host := newMixParticipant()
	f := start(t, Config{
		Role:     domain.RoleCentralUnit,
		Topology: domain.TopologyMCU,
		Capture:  captured(host.stream),
		Mixer:    mixer.Options{TileWidth: 8, TileHeight: 6, FrameInterval: time.Millisecond},
	}, coretest.NewChannel("mcu"))
	f.connect("p1")

	m := f.s.Mixer()
	require.Equal(t, 1, m.StreamCount())
	// host's own stream is only sent inside the composite
	require.Empty(t, f.factory.Get("p1").TracksOf(host.stream.ID))

	f.publish("p1", newMixParticipant().stream)
	require.True(t, m.Running())
	require.Len(t, f.factory.Get("p1").TracksOf(m.MixedStream().ID), 2)
}

func TestLeaveClosesEverything(t *testing.T) {
	local := coretest.NewAVStream()
	ch := coretest.NewChannel("me", "a")
	f := start(t, Config{Topology: domain.TopologyMesh, Capture: captured(local)}, ch)
	f.connect("b")

	f.s.Leave()
	f.s.Leave()

	require.Equal(t, []domain.RoomName{room}, ch.Left())
	require.True(t, f.factory.Get("a").Closed())
	require.True(t, f.factory.Get("b").Closed())
	require.True(t, coretest.Stopped(local))

	var byes int
	for _, s := range ch.Sent() {
		if s.Payload == (protocol.Bye{}) && s.To == "" {
			byes++
		}
	}
	require.Equal(t, 1, byes)
}

// bridge relays one session's outgoing messages to another as pushes.
func bridge(from *coretest.Channel, fromID, toID domain.ParticipantID, to *Session) {
	from.OnSend = func(m coretest.Sent) {
		if m.To == "" || m.To == toID {
			to.Deliver(message(fromID, m.Payload))
		}
	}
}

func TestMeshEndToEnd(t *testing.T) {
	local1, local2 := coretest.NewAVStream(), coretest.NewAVStream()
	ch1, ch2 := coretest.NewChannel("P1"), coretest.NewChannel("P2", "P1")
	f1, f2 := coretest.NewFactory(), coretest.NewFactory()

	s1 := New(Config{Room: room, Topology: domain.TopologyMesh, Channel: ch1, Transports: f1, Capture: captured(local1)})
	s2 := New(Config{Room: room, Topology: domain.TopologyMesh, Channel: ch2, Transports: f2, Capture: captured(local2)})
	t.Cleanup(s2.Leave)
	bridge(ch1, "P1", "P2", s2)
	bridge(ch2, "P2", "P1", s1)

	require.NoError(t, s1.Start(context.Background()))
	s1.Deliver(joined("P2"))
	require.NoError(t, s2.Start(context.Background()))

	settle := func() {
		for i := 0; i < 3; i++ {
			s1.Sync()
			s2.Sync()
		}
	}
	settle()

	t2 := f2.Get("P1")
	t1 := f1.Get("P2")
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	require.Equal(t, 1, t2.Offers())
	require.Zero(t, t1.Offers())
	require.Equal(t, 1, t1.Answers())

	t1.EmitState(core.TransportConnected)
	t2.EmitState(core.TransportConnected)
	settle()

	l1, l2 := s1.Link("P2"), s2.Link("P1")
	require.Equal(t, peer.StateConnected, l1.State())
	require.Equal(t, peer.StateConnected, l2.State())
	require.False(t, l1.Initiator())
	require.True(t, l2.Initiator())

	remote := coretest.NewAVStream()
	t2.EmitStream(remote)
	settle()

	s1.Leave()
	require.Eventually(t, func() bool {
		return s2.Link("P1") == nil
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, peer.StateClosed, l2.State())
	require.True(t, t2.Closed())
	require.True(t, coretest.Stopped(remote))
	require.True(t, coretest.Stopped(local1))
	require.False(t, coretest.Stopped(local2))
}
