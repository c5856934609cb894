package domain

import "fmt"

type RoomName string

// Topology selects how streams are distributed inside a room.
type Topology string

const (
	TopologyMesh Topology = "mesh"
	TopologyStar Topology = "star"
	TopologySFU  Topology = "sfu"
	TopologyMCU  Topology = "mcu"
)

func ParseTopology(s string) (Topology, error) {
	switch t := Topology(s); t {
	case TopologyMesh, TopologyStar, TopologySFU, TopologyMCU:
		return t, nil
	case "":
		return TopologyMesh, nil
	default:
		return "", fmt.Errorf("unknown topology %q", s)
	}
}

// Hosted reports whether the topology needs a media node as central unit.
func (t Topology) Hosted() bool { return t == TopologySFU || t == TopologyMCU }

// Forwarding reports whether streams are relayed unchanged.
func (t Topology) Forwarding() bool { return t != TopologyMCU }

// Room is the membership record owned by the signaling layer.
// Participants keep join order.
type Room struct {
	Name         RoomName
	Topology     Topology
	Participants []*Participant
}

func (r *Room) Find(id ParticipantID) (*Participant, int) {
	for i, p := range r.Participants {
		if p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

func (r *Room) HasCentralUnit() bool {
	for _, p := range r.Participants {
		if p.Role == RoleCentralUnit {
			return true
		}
	}
	return false
}
