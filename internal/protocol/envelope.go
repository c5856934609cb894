package protocol

import (
	"encoding/json"

	"github.com/dkeye/Conference/internal/domain"
)

// Envelope types exchanged with the signaling server.
const (
	// client -> server
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeMessage        = "message"
	TypeSubscribeRooms = "subscribe_rooms"
	TypePing           = "ping"

	// server -> client
	TypeHello       = "hello"
	TypeJoinResult  = "join_result"
	TypeJoined      = "joined"
	TypeLog         = "log"
	TypeFull        = "full"
	TypeRoomCreated = "room_created"
	TypeError       = "error"
	TypePong        = "pong"
)

// Envelope is the single JSON frame shape on the signaling socket. Unused
// fields are omitted.
type Envelope struct {
	Type     string          `json:"type"`
	Req      string          `json:"req,omitempty"`
	Room     string          `json:"room,omitempty"`
	Role     string          `json:"role,omitempty"`
	Topology string          `json:"topology,omitempty"`
	ID       string          `json:"id,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Members  []string        `json:"members,omitempty"`
	Text     string          `json:"text,omitempty"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// EventKind enumerates the pushes a room member can receive.
type EventKind int

const (
	EventJoined EventKind = iota + 1
	EventLog
	EventFull
	EventMessage
	EventRoomCreated
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventLog:
		return "log"
	case EventFull:
		return "full"
	case EventMessage:
		return "message"
	case EventRoomCreated:
		return "room created"
	}
	return "unknown"
}

// Event is a decoded server push.
type Event struct {
	Kind        EventKind
	Room        domain.RoomName
	Participant domain.ParticipantID
	Topology    domain.Topology
	Text        string
	Payload     Payload
}

// EventFromEnvelope converts a push envelope. ok is false for envelopes that
// are not pushes (replies, pongs) or whose payload cannot be decoded.
func EventFromEnvelope(e Envelope) (Event, bool) {
	ev := Event{Room: domain.RoomName(e.Room)}
	switch e.Type {
	case TypeJoined:
		ev.Kind = EventJoined
		ev.Participant = domain.ParticipantID(e.ID)
	case TypeLog:
		ev.Kind = EventLog
		ev.Text = e.Text
	case TypeFull:
		if e.Req != "" {
			return Event{}, false
		}
		ev.Kind = EventFull
	case TypeRoomCreated:
		ev.Kind = EventRoomCreated
		ev.Topology = domain.Topology(e.Topology)
	case TypeMessage:
		p, err := DecodePayload(e.Payload)
		if err != nil {
			return Event{}, false
		}
		ev.Kind = EventMessage
		ev.Participant = domain.ParticipantID(e.From)
		ev.Payload = p
	default:
		return Event{}, false
	}
	return ev, true
}

// MessageEnvelope builds the push delivering payload from a member.
func MessageEnvelope(room domain.RoomName, from domain.ParticipantID, payload json.RawMessage) Envelope {
	return Envelope{Type: TypeMessage, Room: string(room), From: string(from), Payload: payload}
}
