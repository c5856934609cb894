// Package wsclient is the participant side of the signaling socket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	helloWait      = 5 * time.Second
)

var ErrClosed = errors.New("signaling channel closed")

// Channel implements core.Channel and core.RoomWatcher over one WebSocket.
type Channel struct {
	conn   *websocket.Conn
	id     domain.ParticipantID
	logger zerolog.Logger

	outgoing chan []byte
	events   chan protocol.Event
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
}

// Dial connects to url and waits for the server's hello, which carries the
// participant id of this connection.
func Dial(ctx context.Context, url string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	var hello protocol.Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != protocol.TypeHello || hello.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", hello.Type)
	}

	c := &Channel{
		conn:     conn,
		id:       domain.ParticipantID(hello.ID),
		logger:   log.With().Str("module", "wsclient").Str("sid", hello.ID).Logger(),
		outgoing: make(chan []byte, 64),
		events:   make(chan protocol.Event, 64),
		done:     make(chan struct{}),
		pending:  make(map[string]chan protocol.Envelope),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump()
	go c.writePump()
	c.logger.Info().Str("url", url).Msg("connected")
	return c, nil
}

func (c *Channel) ID() domain.ParticipantID { return c.id }

func (c *Channel) Events() <-chan protocol.Event { return c.events }

// Done is closed once the socket is gone.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) CreateOrJoinRoom(ctx context.Context, room domain.RoomName, role domain.Role, topology domain.Topology) ([]domain.ParticipantID, error) {
	reply, err := c.request(ctx, protocol.Envelope{
		Type:     protocol.TypeJoin,
		Room:     string(room),
		Role:     string(role),
		Topology: string(topology),
	})
	if err != nil {
		return nil, err
	}
	switch reply.Type {
	case protocol.TypeJoinResult:
		ids := make([]domain.ParticipantID, 0, len(reply.Members))
		for _, m := range reply.Members {
			ids = append(ids, domain.ParticipantID(m))
		}
		return ids, nil
	case protocol.TypeFull:
		return nil, domain.ErrRoomFull
	}
	return nil, fmt.Errorf("join %s: %s", room, reply.Error)
}

func (c *Channel) LeaveRoom(room domain.RoomName) {
	c.send(protocol.Envelope{Type: protocol.TypeLeave, Room: string(room)})
}

func (c *Channel) SendMessage(p protocol.Payload, room domain.RoomName, to domain.ParticipantID) {
	raw, err := protocol.EncodePayload(p)
	if err != nil {
		c.logger.Error().Err(err).Str("kind", protocol.Kind(p)).Msg("encode payload")
		return
	}
	c.send(protocol.Envelope{Type: protocol.TypeMessage, Room: string(room), To: string(to), Payload: raw})
}

// SubscribeRooms asks for room created pushes.
func (c *Channel) SubscribeRooms(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.send(protocol.Envelope{Type: protocol.TypeSubscribeRooms}) {
		return ErrClosed
	}
	return nil
}

// Ping round-trips a ping through the server.
func (c *Channel) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.Envelope{Type: protocol.TypePing})
	return err
}

// Close sends a close frame and drops the socket.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Channel) request(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	env.Req = uuid.NewString()
	ch := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[env.Req] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.Req)
		c.mu.Unlock()
	}()

	if !c.send(env) {
		return protocol.Envelope{}, ErrClosed
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-c.done:
		return protocol.Envelope{}, ErrClosed
	}
}

func (c *Channel) send(env protocol.Envelope) bool {
	data, err := env.Marshal()
	if err != nil {
		c.logger.Error().Err(err).Str("type", env.Type).Msg("marshal")
		return false
	}
	select {
	case c.outgoing <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) readPump() {
	defer func() {
		c.Close()
		close(c.events)
		c.logger.Info().Msg("readPump closed")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		if env.Req != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.Req]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- env:
				default:
				}
			}
			continue
		}
		if env.Type == protocol.TypeError {
			c.logger.Warn().Str("error", env.Error).Msg("server error")
			continue
		}
		ev, ok := protocol.EventFromEnvelope(env)
		if !ok {
			c.logger.Debug().Str("type", env.Type).Msg("dropped frame")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
