package orch

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/dkeye/Conference/internal/protocol"
)

// Join admits sid into room and returns the members it has to call. The
// members told about it receive joined before Join returns. A rejected star
// central unit gets a full push and domain.ErrRoomFull.
func (o *Orchestrator) Join(sid core.SessionID, room domain.RoomName, role domain.Role, topology domain.Topology) ([]domain.ParticipantID, domain.Topology, error) {
	id := domain.ParticipantID(sid)
	if _, ok := o.Registry.GetSession(sid); !ok {
		return nil, "", domain.ErrUnknownParticipant
	}

	res, err := o.Rooms.Join(room, domain.Participant{ID: id, Role: role}, topology)
	if err != nil {
		metrics.JoinsRejected.WithLabelValues("room_full").Inc()
		o.push(room, id, protocol.Envelope{Type: protocol.TypeFull, Room: string(room)})
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("room full")
		return nil, res.Topology, err
	}
	o.Registry.AddRoom(sid, room)

	self := []domain.ParticipantID{id}
	if res.Created {
		o.serverLog(room, self, fmt.Sprintf("Created room %s (%s)", room, res.Topology))
	} else {
		o.serverLog(room, self, fmt.Sprintf("Joined room %s", room))
	}
	o.serverLog(room, res.Others, fmt.Sprintf("Client ID %s joined room %s", id, room))
	o.pushAll(room, res.Peers, protocol.Envelope{Type: protocol.TypeJoined, Room: string(room), ID: string(id)})

	if res.Created && res.Topology.Hosted() {
		o.announce(room, res.Topology, sid)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).
		Str("role", string(role)).Int("peers", len(res.Peers)).Msg("joined")
	return res.Peers, res.Topology, nil
}

func (o *Orchestrator) announce(room domain.RoomName, topology domain.Topology, except core.SessionID) {
	var ids []domain.ParticipantID
	for _, w := range o.Registry.Watchers() {
		if w != except {
			ids = append(ids, domain.ParticipantID(w))
		}
	}
	o.pushAll(room, ids, protocol.Envelope{Type: protocol.TypeRoomCreated, Room: string(room), Topology: string(topology)})
}

// Leave removes sid from room and says bye on its behalf to its peers.
func (o *Orchestrator) Leave(sid core.SessionID, room domain.RoomName) error {
	id := domain.ParticipantID(sid)
	res, ok := o.Rooms.Leave(room, id)
	if !ok {
		return domain.ErrUnknownParticipant
	}
	o.Registry.RemoveRoom(sid, room)

	if bye, err := protocol.EncodePayload(protocol.Bye{}); err == nil {
		o.pushAll(room, res.Peers, protocol.MessageEnvelope(room, id, bye))
	}
	o.serverLog(room, res.Remaining, fmt.Sprintf("Client ID %s left room %s", id, room))
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Bool("room_deleted", res.Deleted).Msg("left")
	return nil
}

// Route relays payload from sid to one member, or to every other member
// when to is empty. An unknown recipient is not an error.
func (o *Orchestrator) Route(sid core.SessionID, room domain.RoomName, to domain.ParticipantID, payload json.RawMessage) error {
	from := domain.ParticipantID(sid)
	if !o.Rooms.IsMember(room, from) {
		return domain.ErrUnknownParticipant
	}
	env := protocol.MessageEnvelope(room, from, payload)

	if to == "" {
		members, _ := o.Rooms.Members(room)
		ids := make([]domain.ParticipantID, 0, len(members))
		for _, m := range members {
			if m.ID != from {
				ids = append(ids, m.ID)
			}
		}
		metrics.MessagesRouted.WithLabelValues("broadcast").Inc()
		o.pushAll(room, ids, env)
		return nil
	}
	if to == from || !o.Rooms.IsMember(room, to) {
		metrics.MessagesRouted.WithLabelValues("dropped").Inc()
		log.Debug().Str("module", "orch").Str("room", string(room)).Str("to", string(to)).Msg("route to unknown member")
		return nil
	}
	metrics.MessagesRouted.WithLabelValues("unicast").Inc()
	o.push(room, to, env)
	return nil
}

// SubscribeRooms makes sid a media node: it hears about every hosted room
// created from now on, and right away about those still without a host.
func (o *Orchestrator) SubscribeRooms(sid core.SessionID) error {
	if !o.Registry.Watch(sid) {
		return domain.ErrUnknownParticipant
	}
	for _, r := range o.Rooms.Unhosted() {
		o.push(r.Name, domain.ParticipantID(sid), protocol.Envelope{
			Type: protocol.TypeRoomCreated, Room: string(r.Name), Topology: string(r.Topology),
		})
	}
	return nil
}

// OnDisconnect leaves every room of sid and forgets it.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	for _, room := range o.Registry.RoomsOf(sid) {
		if err := o.Leave(sid, room); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("leave on disconnect")
		}
	}
	o.Registry.Unbind(sid)
}

// KickMember removes id from room. Its peers say bye to it so its own
// session closes the links.
func (o *Orchestrator) KickMember(room domain.RoomName, id domain.ParticipantID) error {
	sid := core.SessionID(id)
	res, ok := o.Rooms.Leave(room, id)
	if !ok {
		return domain.ErrUnknownParticipant
	}
	o.Registry.RemoveRoom(sid, room)

	if bye, err := protocol.EncodePayload(protocol.Bye{}); err == nil {
		o.pushAll(room, res.Peers, protocol.MessageEnvelope(room, id, bye))
		for _, p := range res.Peers {
			o.push(room, id, protocol.MessageEnvelope(room, p, bye))
		}
	}
	o.serverLog(room, []domain.ParticipantID{id}, fmt.Sprintf("Removed from room %s", room))
	o.serverLog(room, res.Remaining, fmt.Sprintf("Client ID %s removed from room %s", id, room))
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("kicked from room")
	return nil
}

// EvictRoom removes every member of name, which deletes the room.
func (o *Orchestrator) EvictRoom(name domain.RoomName) error {
	members, ok := o.Rooms.Members(name)
	if !ok {
		return domain.ErrRoomNotFound
	}
	for _, m := range members {
		_ = o.KickMember(name, m.ID)
	}
	log.Info().Str("module", "orch").Str("room", string(name)).Int("members", len(members)).Msg("room evicted")
	return nil
}
