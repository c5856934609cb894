package app

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
)

type RoomInfo struct {
	Name     domain.RoomName `json:"name"`
	Topology domain.Topology `json:"topology"`
	Members  int             `json:"members"`
}

// JoinResult tells the hub whom to notify after a join.
type JoinResult struct {
	Topology domain.Topology
	Created  bool
	// Peers are the members the joiner links to. They are also the members
	// told about the joiner.
	Peers []domain.ParticipantID
	// Others is everyone else in the room.
	Others []domain.ParticipantID
}

type LeaveResult struct {
	Peers     []domain.ParticipantID
	Remaining []domain.ParticipantID
	Deleted   bool
}

// RoomStore owns room membership. A room exists from its first join until
// its last member leaves.
type RoomStore struct {
	mu              sync.RWMutex
	rooms           map[domain.RoomName]*domain.Room
	defaultTopology domain.Topology
}

func NewRoomStore(defaultTopology domain.Topology) *RoomStore {
	if defaultTopology == "" {
		defaultTopology = domain.TopologyMesh
	}
	return &RoomStore{
		rooms:           make(map[domain.RoomName]*domain.Room),
		defaultTopology: defaultTopology,
	}
}

// roleFiltered rooms pair central and side units only: side units never link
// to each other.
func roleFiltered(t domain.Topology) bool {
	return t == domain.TopologyStar || t.Hosted()
}

func normalizeRole(t domain.Topology, r domain.Role) domain.Role {
	if roleFiltered(t) && r == domain.RoleNone {
		return domain.RoleSideUnit
	}
	return r
}

// Join adds p to name, creating the room with topology if it does not exist.
// The topology of an existing room wins. A second central unit is rejected
// with domain.ErrRoomFull and the room is left untouched. Joining twice
// returns the same view without adding p again.
func (s *RoomStore) Join(name domain.RoomName, p domain.Participant, topology domain.Topology) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[name]
	created := !ok
	if created {
		if topology == "" {
			topology = s.defaultTopology
		}
		room = &domain.Room{Name: name, Topology: topology}
	}
	p.Role = normalizeRole(room.Topology, p.Role)

	existing, _ := room.Find(p.ID)
	if existing == nil && p.Role == domain.RoleCentralUnit && roleFiltered(room.Topology) && room.HasCentralUnit() {
		return JoinResult{Topology: room.Topology}, domain.ErrRoomFull
	}
	if existing != nil {
		p.Role = existing.Role
	}

	res := JoinResult{Topology: room.Topology, Created: created}
	for _, m := range room.Participants {
		if m.ID == p.ID {
			continue
		}
		res.Others = append(res.Others, m.ID)
		if !roleFiltered(room.Topology) || m.Role == p.Role.Opposite() {
			res.Peers = append(res.Peers, m.ID)
		}
	}
	if existing != nil {
		return res, nil
	}

	room.Participants = append(room.Participants, domain.NewParticipant(p.ID, p.Role))
	if created {
		s.rooms[name] = room
		metrics.RoomsCurrent.Inc()
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("topology", string(room.Topology)).Msg("room created")
	}
	metrics.ParticipantsCurrent.Inc()
	return res, nil
}

// Leave removes id from name. ok is false if id was not a member.
func (s *RoomStore) Leave(name domain.RoomName, id domain.ParticipantID) (LeaveResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[name]
	if !exists {
		return LeaveResult{}, false
	}
	p, idx := room.Find(id)
	if p == nil {
		return LeaveResult{}, false
	}
	room.Participants = slices.Delete(room.Participants, idx, idx+1)
	metrics.ParticipantsCurrent.Dec()

	var res LeaveResult
	for _, m := range room.Participants {
		res.Remaining = append(res.Remaining, m.ID)
		if !roleFiltered(room.Topology) || m.Role == p.Role.Opposite() {
			res.Peers = append(res.Peers, m.ID)
		}
	}
	if len(room.Participants) == 0 {
		delete(s.rooms, name)
		metrics.RoomsCurrent.Dec()
		res.Deleted = true
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room deleted")
	}
	return res, true
}

// IsMember reports whether id is in name.
func (s *RoomStore) IsMember(name domain.RoomName, id domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[name]
	if !ok {
		return false
	}
	p, _ := room.Find(id)
	return p != nil
}

// Members returns a copy of the participants of name in join order.
func (s *RoomStore) Members(name domain.RoomName) ([]domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[name]
	if !ok {
		return nil, false
	}
	out := make([]domain.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		out = append(out, *p)
	}
	return out, true
}

func (s *RoomStore) Get(name domain.RoomName) (RoomInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[name]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{Name: room.Name, Topology: room.Topology, Members: len(room.Participants)}, true
}

// List returns every room sorted by name.
func (s *RoomStore) List() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, RoomInfo{Name: r.Name, Topology: r.Topology, Members: len(r.Participants)})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Unhosted lists hosted rooms that have no central unit yet.
func (s *RoomStore) Unhosted() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RoomInfo
	for _, r := range s.rooms {
		if r.Topology.Hosted() && !r.HasCentralUnit() {
			out = append(out, RoomInfo{Name: r.Name, Topology: r.Topology, Members: len(r.Participants)})
		}
	}
	return out
}
