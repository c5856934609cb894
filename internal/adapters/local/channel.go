// Package local connects an in-process member, such as the embedded media
// node, straight to the hub without a socket.
package local

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// Channel is both the member's core.Channel and the hub's push endpoint for
// it. Pushes queue without bound until read from Events.
type Channel struct {
	orch   *orch.Orchestrator
	id     domain.ParticipantID
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  deque.Deque[protocol.Event]
	wake   chan struct{}
	done   chan struct{}
	events chan protocol.Event
}

// Connect registers a new member with o.
func Connect(o *orch.Orchestrator) *Channel {
	id := domain.NewParticipantID()
	c := &Channel{
		orch:   o,
		id:     id,
		logger: log.With().Str("module", "adapters.local").Str("sid", string(id)).Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		events: make(chan protocol.Event),
	}
	go c.pump()
	sess := core.NewMemberSession(id).UpdateSignal(c)
	o.Registry.BindSignal(core.SessionID(id), sess, c.Disconnect)
	return c
}

func (c *Channel) ID() domain.ParticipantID { return c.id }

func (c *Channel) Events() <-chan protocol.Event { return c.events }

func (c *Channel) CreateOrJoinRoom(ctx context.Context, room domain.RoomName, role domain.Role, topology domain.Topology) ([]domain.ParticipantID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peers, _, err := c.orch.Join(core.SessionID(c.id), room, role, topology)
	return peers, err
}

func (c *Channel) LeaveRoom(room domain.RoomName) {
	if err := c.orch.Leave(core.SessionID(c.id), room); err != nil {
		c.logger.Debug().Err(err).Str("room", string(room)).Msg("leave")
	}
}

func (c *Channel) SendMessage(p protocol.Payload, room domain.RoomName, to domain.ParticipantID) {
	raw, err := protocol.EncodePayload(p)
	if err != nil {
		c.logger.Error().Err(err).Str("kind", protocol.Kind(p)).Msg("encode payload")
		return
	}
	if err := c.orch.Route(core.SessionID(c.id), room, to, raw); err != nil {
		c.logger.Warn().Err(err).Str("room", string(room)).Msg("route")
	}
}

func (c *Channel) SubscribeRooms(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.orch.SubscribeRooms(core.SessionID(c.id))
}

// TrySend decodes a hub push into an event and queues it. It never reports
// backpressure.
func (c *Channel) TrySend(f core.Frame) error {
	env, err := protocol.ParseEnvelope(f)
	if err != nil {
		return err
	}
	ev, ok := protocol.EventFromEnvelope(env)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrLinkClosed
	}
	c.queue.PushBack(ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// pump hands queued events to Events in order. Whatever is still queued at
// Close is dropped.
func (c *Channel) pump() {
	defer close(c.events)
	for {
		c.mu.Lock()
		if c.queue.Len() == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		ev := c.queue.PopFront()
		c.mu.Unlock()
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Disconnect leaves every room and closes Events.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.orch.OnDisconnect(core.SessionID(c.id))
	c.Close()
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.logger.Info().Msg("closed")
}
