package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.BindSignal("s1", core.NewMemberSession("s1"), cancel)

	require.True(t, r.AddRoom("s1", "a"))
	require.True(t, r.AddRoom("s1", "b"))
	require.False(t, r.AddRoom("nope", "a"))
	r.RemoveRoom("s1", "a")
	require.Equal(t, []domain.RoomName{"b"}, r.RoomsOf("s1"))

	require.False(t, r.IsWatcher("s1"))
	require.True(t, r.Watch("s1"))
	require.Equal(t, []core.SessionID{"s1"}, r.Watchers())
	require.True(t, r.IsWatcher("s1"))
	require.False(t, r.IsWatcher("nope"))

	require.True(t, r.Cancel("s1"))
	require.Error(t, ctx.Err())

	require.Equal(t, []domain.RoomName{"b"}, r.Unbind("s1"))
	_, ok := r.GetSession("s1")
	require.False(t, ok)
	require.False(t, r.Cancel("s1"))
}
