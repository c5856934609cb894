package orch

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

type conn struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
}

func (c *conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return domain.ErrBackpressure
	}
	env, err := protocol.ParseEnvelope(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *conn) Close() {}

func (c *conn) of(typ string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range c.frames {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (c *conn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type hub struct {
	o        *Orchestrator
	conns    map[core.SessionID]*conn
	canceled map[core.SessionID]bool
}

func newHub(t *testing.T, policy app.Policy, ids ...core.SessionID) *hub {
	t.Helper()
	h := &hub{
		o:        New(app.NewRegistry(), app.NewRoomStore(domain.TopologyMesh), policy),
		conns:    make(map[core.SessionID]*conn),
		canceled: make(map[core.SessionID]bool),
	}
	for _, id := range ids {
		c := &conn{}
		h.conns[id] = c
		sess := core.NewMemberSession(domain.ParticipantID(id)).UpdateSignal(c)
		h.o.Registry.BindSignal(id, sess, func() { h.canceled[id] = true })
	}
	return h
}

func payload(t *testing.T, p protocol.Payload) json.RawMessage {
	raw, err := protocol.EncodePayload(p)
	require.NoError(t, err)
	return raw
}

func TestJoinPushesJoinedAndLogs(t *testing.T) {
	h := newHub(t, nil, "a", "b")

	peers, topo, err := h.o.Join("a", "r1", "", "")
	require.NoError(t, err)
	require.Empty(t, peers)
	require.Equal(t, domain.TopologyMesh, topo)
	require.Contains(t, h.conns["a"].of(protocol.TypeLog)[0].Text, "[Server]: Created room r1")

	peers, _, err = h.o.Join("b", "r1", "", "")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"a"}, peers)

	joined := h.conns["a"].of(protocol.TypeJoined)
	require.Len(t, joined, 1)
	require.Equal(t, "b", joined[0].ID)
	require.Equal(t, "r1", joined[0].Room)
	require.Len(t, h.conns["a"].of(protocol.TypeLog), 2)
	require.Empty(t, h.conns["b"].of(protocol.TypeJoined))
}

func TestJoinUnboundSession(t *testing.T) {
	h := newHub(t, nil)
	_, _, err := h.o.Join("ghost", "r1", "", "")
	require.ErrorIs(t, err, domain.ErrUnknownParticipant)
	require.Empty(t, h.o.Rooms.List())
}

func TestStarRoomFull(t *testing.T) {
	h := newHub(t, nil, "c1", "c2", "s1")
	_, _, err := h.o.Join("c1", "r1", domain.RoleCentralUnit, domain.TopologyStar)
	require.NoError(t, err)
	_, _, err = h.o.Join("s1", "r1", domain.RoleSideUnit, "")
	require.NoError(t, err)
	before, _ := h.o.Rooms.Members("r1")

	_, _, err = h.o.Join("c2", "r1", domain.RoleCentralUnit, "")
	require.ErrorIs(t, err, domain.ErrRoomFull)
	require.Len(t, h.conns["c2"].of(protocol.TypeFull), 1)

	after, _ := h.o.Rooms.Members("r1")
	require.Equal(t, before, after)
	require.Empty(t, h.o.Registry.RoomsOf("c2"))
	// nobody was told about the rejected member
	require.Len(t, h.conns["c1"].of(protocol.TypeJoined), 1)
}

func TestStarJoinedOnlyToOppositeRole(t *testing.T) {
	h := newHub(t, nil, "c", "s1", "s2")
	_, _, _ = h.o.Join("c", "r1", domain.RoleCentralUnit, domain.TopologyStar)
	_, _, _ = h.o.Join("s1", "r1", domain.RoleSideUnit, "")
	peers, _, err := h.o.Join("s2", "r1", domain.RoleSideUnit, "")
	require.NoError(t, err)

	require.Equal(t, []domain.ParticipantID{"c"}, peers)
	require.Len(t, h.conns["c"].of(protocol.TypeJoined), 2)
	require.Empty(t, h.conns["s1"].of(protocol.TypeJoined))
}

func TestLeaveSaysByeAndRestoresMembership(t *testing.T) {
	h := newHub(t, nil, "a", "b")
	_, _, _ = h.o.Join("a", "r1", "", "")
	before, _ := h.o.Rooms.Get("r1")
	_, _, _ = h.o.Join("b", "r1", "", "")

	require.NoError(t, h.o.Leave("b", "r1"))
	after, _ := h.o.Rooms.Get("r1")
	require.Equal(t, before.Members, after.Members)

	msgs := h.conns["a"].of(protocol.TypeMessage)
	require.Len(t, msgs, 1)
	require.Equal(t, "b", msgs[0].From)
	p, err := protocol.DecodePayload(msgs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.Bye{}, p)

	require.ErrorIs(t, h.o.Leave("b", "r1"), domain.ErrUnknownParticipant)
}

func TestRoute(t *testing.T) {
	h := newHub(t, nil, "a", "b", "c", "x")
	for _, id := range []core.SessionID{"a", "b", "c"} {
		_, _, err := h.o.Join(id, "r1", "", "")
		require.NoError(t, err)
	}
	for _, c := range h.conns {
		c.reset()
	}
	offer := payload(t, protocol.Description{Type: protocol.SDPOffer, SDP: "v=0\r\no=- 1 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"})

	// unicast
	require.NoError(t, h.o.Route("a", "r1", "b", offer))
	require.Len(t, h.conns["b"].of(protocol.TypeMessage), 1)
	require.Empty(t, h.conns["c"].of(protocol.TypeMessage))
	require.JSONEq(t, string(offer), string(h.conns["b"].of(protocol.TypeMessage)[0].Payload))

	// broadcast skips the sender
	require.NoError(t, h.o.Route("a", "r1", "", payload(t, protocol.GotUserMedia{})))
	require.Len(t, h.conns["b"].of(protocol.TypeMessage), 2)
	require.Len(t, h.conns["c"].of(protocol.TypeMessage), 1)
	require.Empty(t, h.conns["a"].of(protocol.TypeMessage))

	// unknown recipient is a no-op
	require.NoError(t, h.o.Route("a", "r1", "gone", offer))
	require.NoError(t, h.o.Route("a", "r1", "x", offer))
	require.Empty(t, h.conns["x"].of(protocol.TypeMessage))

	// non-members cannot route
	require.ErrorIs(t, h.o.Route("x", "r1", "a", offer), domain.ErrUnknownParticipant)
}

func TestRoomCreatedAnnouncedToWatchers(t *testing.T) {
	h := newHub(t, nil, "node", "a", "b")
	require.NoError(t, h.o.SubscribeRooms("node"))

	_, _, err := h.o.Join("a", "sfu-room", "", domain.TopologySFU)
	require.NoError(t, err)
	_, _, err = h.o.Join("b", "mesh-room", "", "")
	require.NoError(t, err)

	created := h.conns["node"].of(protocol.TypeRoomCreated)
	require.Len(t, created, 1)
	require.Equal(t, "sfu-room", created[0].Room)
	require.Equal(t, "sfu", created[0].Topology)
}

func TestSubscribeAnnouncesUnhostedRooms(t *testing.T) {
	h := newHub(t, nil, "node", "a")
	_, _, _ = h.o.Join("a", "r1", "", domain.TopologyMCU)

	require.NoError(t, h.o.SubscribeRooms("node"))
	created := h.conns["node"].of(protocol.TypeRoomCreated)
	require.Len(t, created, 1)
	require.Equal(t, "mcu", created[0].Topology)
	require.ErrorIs(t, h.o.SubscribeRooms("ghost"), domain.ErrUnknownParticipant)
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	h := newHub(t, nil, "node", "a")
	_, _, _ = h.o.Join("a", "r1", "", domain.TopologySFU)
	_, _, _ = h.o.Join("a", "r2", "", domain.TopologySFU)
	_, _, _ = h.o.Join("node", "r1", domain.RoleCentralUnit, "")
	_, _, _ = h.o.Join("node", "r2", domain.RoleCentralUnit, "")

	h.o.OnDisconnect("node")
	for _, r := range []domain.RoomName{"r1", "r2"} {
		require.False(t, h.o.Rooms.IsMember(r, "node"))
		require.True(t, h.o.Rooms.IsMember(r, "a"))
	}
	require.Len(t, h.conns["a"].of(protocol.TypeMessage), 2)
	_, ok := h.o.Registry.GetSession("node")
	require.False(t, ok)
}

func TestBackpressureKicks(t *testing.T) {
	h := newHub(t, app.SimplePolicy{}, "a", "b")
	_, _, _ = h.o.Join("a", "r1", "", "")
	h.conns["a"].full = true
	_, _, _ = h.o.Join("b", "r1", "", "")
	require.True(t, h.canceled["a"])
	require.False(t, h.canceled["b"])

	h2 := newHub(t, app.TolerantPolicy{}, "a", "b")
	_, _, _ = h2.o.Join("a", "r1", "", "")
	h2.conns["a"].full = true
	_, _, _ = h2.o.Join("b", "r1", "", "")
	require.False(t, h2.canceled["a"])
}

func TestBackpressureSparesWatchers(t *testing.T) {
	h := newHub(t, app.SimplePolicy{}, "node", "a")
	require.NoError(t, h.o.SubscribeRooms("node"))
	h.conns["node"].full = true

	_, _, err := h.o.Join("a", "r1", "", domain.TopologySFU)
	require.NoError(t, err)
	require.False(t, h.canceled["node"])
	require.Equal(t, []core.SessionID{"node"}, h.o.Registry.Watchers())
}

func TestEvictRoom(t *testing.T) {
	h := newHub(t, nil, "a", "b")
	_, _, _ = h.o.Join("a", "r1", "", "")
	_, _, _ = h.o.Join("b", "r1", "", "")

	require.NoError(t, h.o.EvictRoom("r1"))
	_, ok := h.o.Rooms.Get("r1")
	require.False(t, ok)
	require.Empty(t, h.o.Registry.RoomsOf("a"))
	require.ErrorIs(t, h.o.EvictRoom("r1"), domain.ErrRoomNotFound)

	// each side was told bye by the other
	require.NotEmpty(t, h.conns["a"].of(protocol.TypeMessage))
	require.NotEmpty(t, h.conns["b"].of(protocol.TypeMessage))
}

func TestKickClosesConnection(t *testing.T) {
	h := newHub(t, nil, "a")
	require.True(t, h.o.Kick("a"))
	require.True(t, h.canceled["a"])
	require.False(t, h.o.Kick("ghost"))
}
