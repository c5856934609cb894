package local

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

func newHub() *orch.Orchestrator {
	return orch.New(app.NewRegistry(), app.NewRoomStore(domain.TopologyMesh), app.TolerantPolicy{})
}

// drain reads events until none arrives for a short while or Events closes.
func drain(ch *Channel) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestJoinAndMessage(t *testing.T) {
	o := newHub()
	a, b := Connect(o), Connect(o)
	ctx := context.Background()

	peers, err := a.CreateOrJoinRoom(ctx, "r", "", "")
	require.NoError(t, err)
	require.Empty(t, peers)
	peers, err = b.CreateOrJoinRoom(ctx, "r", "", "")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{a.ID()}, peers)

	var joined bool
	for _, ev := range drain(a) {
		if ev.Kind == protocol.EventJoined {
			joined = ev.Participant == b.ID()
		}
	}
	require.True(t, joined)

	b.SendMessage(protocol.Candidate{SDPMid: "0", Candidate: "c"}, "r", a.ID())
	evs := drain(a)
	require.Len(t, evs, 1)
	require.Equal(t, protocol.EventMessage, evs[0].Kind)
	require.Equal(t, b.ID(), evs[0].Participant)
	require.Equal(t, protocol.Candidate{SDPMid: "0", Candidate: "c"}, evs[0].Payload)
}

func TestQueueIsUnbounded(t *testing.T) {
	o := newHub()
	c := Connect(o)

	for i := 0; i < 1000; i++ {
		frame := core.Frame(fmt.Sprintf(`{"type":"log","room":"r","text":"%d"}`, i))
		require.NoError(t, c.TrySend(frame))
	}
	require.NoError(t, c.TrySend(core.Frame(`{"type":"pong"}`)))

	evs := drain(c)
	require.Len(t, evs, 1000)
	for i, ev := range evs {
		require.Equal(t, protocol.EventLog, ev.Kind)
		require.Equal(t, fmt.Sprint(i), ev.Text)
	}
}

func TestDisconnectLeavesRooms(t *testing.T) {
	o := newHub()
	a, b := Connect(o), Connect(o)
	_, err := a.CreateOrJoinRoom(context.Background(), "r", "", "")
	require.NoError(t, err)
	_, err = b.CreateOrJoinRoom(context.Background(), "r", "", "")
	require.NoError(t, err)
	drain(a)

	require.True(t, o.Kick(core.SessionID(b.ID())))

	_, ok := o.Registry.GetSession(core.SessionID(b.ID()))
	require.False(t, ok)
	members, _ := o.Rooms.Members("r")
	require.Len(t, members, 1)

	evs := drain(a)
	require.NotEmpty(t, evs)
	require.Equal(t, protocol.Bye{}, evs[0].Payload)

	require.Eventually(t, func() bool {
		_, open := <-b.Events()
		return !open
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, b.TrySend(core.Frame(`{"type":"log"}`)), domain.ErrLinkClosed)
}
