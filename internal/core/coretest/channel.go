package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// Sent records one SendMessage call.
type Sent struct {
	Payload protocol.Payload
	Room    domain.RoomName
	To      domain.ParticipantID
}

// Channel is an in-memory core.Channel. Join answers with Members or Err.
type Channel struct {
	Self    domain.ParticipantID
	Members []domain.ParticipantID
	Err     error
	// OnSend, when set, is called for every SendMessage.
	OnSend func(Sent)

	mu     sync.Mutex
	sent   []Sent
	joined []domain.RoomName
	left   []domain.RoomName
	events chan protocol.Event
}

func NewChannel(self domain.ParticipantID, members ...domain.ParticipantID) *Channel {
	return &Channel{Self: self, Members: members, events: make(chan protocol.Event, 64)}
}

func (c *Channel) ID() domain.ParticipantID { return c.Self }

func (c *Channel) CreateOrJoinRoom(_ context.Context, room domain.RoomName, _ domain.Role, _ domain.Topology) ([]domain.ParticipantID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.joined = append(c.joined, room)
	return append([]domain.ParticipantID(nil), c.Members...), nil
}

func (c *Channel) LeaveRoom(room domain.RoomName) {
	c.mu.Lock()
	c.left = append(c.left, room)
	c.mu.Unlock()
}

func (c *Channel) SendMessage(p protocol.Payload, room domain.RoomName, to domain.ParticipantID) {
	s := Sent{Payload: p, Room: room, To: to}
	c.mu.Lock()
	c.sent = append(c.sent, s)
	hook := c.OnSend
	c.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (c *Channel) Events() <-chan protocol.Event { return c.events }

// Push queues an event for Events readers.
func (c *Channel) Push(ev protocol.Event) { c.events <- ev }

func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTo returns the payloads unicast to to.
func (c *Channel) SentTo(to domain.ParticipantID) []protocol.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Payload
	for _, s := range c.sent {
		if s.To == to {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (c *Channel) Joined() []domain.RoomName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomName(nil), c.joined...)
}

func (c *Channel) Left() []domain.RoomName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomName(nil), c.left...)
}
