package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/domain"
)

func participant(id string, role domain.Role) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), Role: role}
}

func TestJoinLeaveRestoresCount(t *testing.T) {
	s := NewRoomStore("")
	_, err := s.Join("r1", participant("a", ""), "")
	require.NoError(t, err)
	before, _ := s.Get("r1")

	res, err := s.Join("r1", participant("b", ""), "")
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, domain.TopologyMesh, res.Topology)
	require.Equal(t, []domain.ParticipantID{"a"}, res.Peers)

	_, ok := s.Leave("r1", "b")
	require.True(t, ok)
	after, _ := s.Get("r1")
	require.Equal(t, before.Members, after.Members)
}

func TestJoinTwiceIsIdempotent(t *testing.T) {
	s := NewRoomStore(domain.TopologyMesh)
	_, _ = s.Join("r1", participant("a", ""), "")
	_, _ = s.Join("r1", participant("b", ""), "")

	res, err := s.Join("r1", participant("b", ""), "")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"a"}, res.Peers)
	info, _ := s.Get("r1")
	require.Equal(t, 2, info.Members)
}

func TestRoomLifecycle(t *testing.T) {
	s := NewRoomStore(domain.TopologyMesh)
	res, err := s.Join("r1", participant("a", ""), domain.TopologySFU)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, domain.TopologySFU, res.Topology)

	// topology of an existing room wins
	res, err = s.Join("r1", participant("b", ""), domain.TopologyMCU)
	require.NoError(t, err)
	require.Equal(t, domain.TopologySFU, res.Topology)

	_, ok := s.Leave("r1", "x")
	require.False(t, ok)
	_, ok = s.Leave("r1", "a")
	require.True(t, ok)
	lr, ok := s.Leave("r1", "b")
	require.True(t, ok)
	require.True(t, lr.Deleted)

	_, ok = s.Get("r1")
	require.False(t, ok)
	require.Empty(t, s.List())
}

func TestStarSingleCentralUnit(t *testing.T) {
	s := NewRoomStore(domain.TopologyMesh)
	_, err := s.Join("r1", participant("c1", domain.RoleCentralUnit), domain.TopologyStar)
	require.NoError(t, err)
	_, err = s.Join("r1", participant("s1", domain.RoleSideUnit), "")
	require.NoError(t, err)

	before, _ := s.Members("r1")
	_, err = s.Join("r1", participant("c2", domain.RoleCentralUnit), "")
	require.ErrorIs(t, err, domain.ErrRoomFull)
	after, _ := s.Members("r1")
	require.Equal(t, before, after)
	require.False(t, s.IsMember("r1", "c2"))
}

func TestStarPeersAreOppositeRole(t *testing.T) {
	s := NewRoomStore(domain.TopologyMesh)
	_, _ = s.Join("r1", participant("s1", domain.RoleSideUnit), domain.TopologyStar)
	_, _ = s.Join("r1", participant("s2", ""), "")

	res, err := s.Join("r1", participant("c", domain.RoleCentralUnit), "")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"s1", "s2"}, res.Peers)

	res, err = s.Join("r1", participant("s3", domain.RoleSideUnit), "")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"c"}, res.Peers)
	require.ElementsMatch(t, []domain.ParticipantID{"s1", "s2", "c"}, res.Others)

	members, _ := s.Members("r1")
	require.Equal(t, domain.RoleSideUnit, members[1].Role)

	lr, _ := s.Leave("r1", "s1")
	require.Equal(t, []domain.ParticipantID{"c"}, lr.Peers)
}

func TestUnhostedRooms(t *testing.T) {
	s := NewRoomStore(domain.TopologyMesh)
	_, _ = s.Join("sfu", participant("a", ""), domain.TopologySFU)
	_, _ = s.Join("mesh", participant("b", ""), "")
	_, _ = s.Join("mcu", participant("c", ""), domain.TopologyMCU)
	_, _ = s.Join("mcu", participant("node", domain.RoleCentralUnit), "")

	u := s.Unhosted()
	require.Len(t, u, 1)
	require.Equal(t, domain.RoomName("sfu"), u[0].Name)

	list := s.List()
	require.Equal(t, []domain.RoomName{"mcu", "mesh", "sfu"}, []domain.RoomName{list[0].Name, list[1].Name, list[2].Name})
}
