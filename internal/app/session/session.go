// Package session implements the Room Session: one member's view of a room.
// It owns the Peer Links toward the other members, routes every signaling
// event of the room and applies the topology's stream fan-out. All state is
// confined to the session's Executor.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/dkeye/Conference/internal/app/mixer"
	"github.com/dkeye/Conference/internal/app/peer"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

var ErrStarted = errors.New("session already started")

// CaptureFunc acquires the member's own stream.
type CaptureFunc func(ctx context.Context) (*domain.Stream, error)

type Config struct {
	Room     domain.RoomName
	Role     domain.Role
	Topology domain.Topology

	Channel    core.Channel
	Transports core.TransportFactory
	// Capture is nil for members that publish nothing, like a media node.
	Capture CaptureFunc

	Mixer             mixer.Options
	MixerCapabilities mixer.Capabilities

	NegotiationTimeout time.Duration
	AutoCallDelay      time.Duration
}

type published struct {
	owner  domain.ParticipantID
	stream *domain.Stream
}

type Session struct {
	cfg    Config
	self   domain.ParticipantID
	exec   *Executor
	logger zerolog.Logger

	started atomic.Bool
	left    bool

	local   *domain.Stream
	links   map[domain.ParticipantID]*peer.Link
	streams map[string]*published
	order   []string

	mixer     *mixer.Engine
	mixing    bool
	delivered map[domain.ParticipantID]bool
}

func New(cfg Config) *Session {
	self := cfg.Channel.ID()
	return &Session{
		cfg:  cfg,
		self: self,
		exec: NewExecutor(),
		logger: log.With().Str("module", "session").
			Str("room", string(cfg.Room)).
			Str("participant", string(self)).
			Str("topology", string(cfg.Topology)).Logger(),
		links:     make(map[domain.ParticipantID]*peer.Link),
		streams:   make(map[string]*published),
		delivered: make(map[domain.ParticipantID]bool),
	}
}

func (s *Session) Room() domain.RoomName     { return s.cfg.Room }
func (s *Session) Self() domain.ParticipantID { return s.self }

// hub reports whether this member is the star or hosted central unit.
func (s *Session) hub() bool {
	return s.cfg.Role == domain.RoleCentralUnit && s.cfg.Topology != domain.TopologyMesh
}

func (s *Session) forwards() bool { return s.hub() && s.cfg.Topology.Forwarding() }
func (s *Session) mixes() bool    { return s.hub() && s.cfg.Topology == domain.TopologyMCU }

// Start captures local media, joins the room and calls every member the
// join returned. A star room rejecting the role fails with
// domain.ErrRoomFull and nothing is kept.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	var local *domain.Stream
	if s.cfg.Capture != nil {
		var err error
		if local, err = s.cfg.Capture(ctx); err != nil {
			s.exec.Stop()
			return fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
		}
	}

	s.exec.Do(func() {
		s.local = local
		if !s.mixes() {
			return
		}
		s.mixer = mixer.New(s.cfg.Mixer, s.cfg.MixerCapabilities)
		if local != nil {
			// the host's own voice is muted in the composite it hears back
			s.mixStream(s.self, local)
			s.mixer.SetGain(local.ID, 0)
		}
	})

	members, err := s.cfg.Channel.CreateOrJoinRoom(ctx, s.cfg.Room, s.cfg.Role, s.cfg.Topology)
	if err != nil {
		s.exec.Do(s.teardown)
		s.exec.Stop()
		return fmt.Errorf("join %s: %w", s.cfg.Room, err)
	}
	s.logger.Info().Int("members", len(members)).Msg("joined room")

	s.exec.Do(func() {
		for _, m := range members {
			if m == s.self {
				continue
			}
			s.check(s.link(m, true).InitiateCall(), m, "initiate call")
		}
	})
	s.cfg.Channel.SendMessage(protocol.GotUserMedia{}, s.cfg.Room, "")
	return nil
}

// Deliver queues a signaling event of this room.
func (s *Session) Deliver(ev protocol.Event) {
	s.exec.Post(func() { s.handle(ev) })
}

// Pump delivers events until ctx ends or the channel closes.
func (s *Session) Pump(ctx context.Context, events <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Room == "" || ev.Room == s.cfg.Room {
				s.Deliver(ev)
			}
		}
	}
}

// Leave says bye to every member, leaves the room and releases all media.
func (s *Session) Leave() {
	if !s.started.Load() {
		return
	}
	s.exec.Do(func() {
		if s.left {
			return
		}
		s.cfg.Channel.SendMessage(protocol.Bye{}, s.cfg.Room, "")
		s.cfg.Channel.LeaveRoom(s.cfg.Room)
		s.teardown()
	})
	s.exec.Stop()
	s.logger.Info().Msg("left room")
}

func (s *Session) teardown() {
	s.left = true
	for id, l := range s.links {
		l.Close()
		delete(s.links, id)
	}
	clear(s.streams)
	s.order = nil
	if s.mixer != nil {
		s.mixer.Release()
	}
	if s.local != nil {
		s.local.Stop()
	}
}

func (s *Session) handle(ev protocol.Event) {
	if s.left {
		return
	}
	switch ev.Kind {
	case protocol.EventJoined:
		s.onJoined(ev.Participant)
	case protocol.EventMessage:
		s.onMessage(ev.Participant, ev.Payload)
	case protocol.EventLog:
		s.logger.Info().Str("text", ev.Text).Msg("room log")
	case protocol.EventFull:
		s.logger.Warn().Msg("room is full")
	default:
		s.logger.Debug().Stringer("kind", ev.Kind).Msg("event ignored")
	}
}

func (s *Session) onJoined(id domain.ParticipantID) {
	if id == s.self {
		return
	}
	if _, ok := s.links[id]; ok {
		return
	}
	s.link(id, false)
}

func (s *Session) link(remote domain.ParticipantID, initiator bool) *peer.Link {
	if l, ok := s.links[remote]; ok {
		return l
	}
	l := peer.New(peer.Params{
		Local:              s.self,
		Remote:             remote,
		Initiator:          initiator,
		Topology:           s.cfg.Topology,
		Transports:         s.cfg.Transports,
		Streams:            provider{s},
		Observer:           observer{s},
		Executor:           s.exec,
		NegotiationTimeout: s.cfg.NegotiationTimeout,
		AutoCallDelay:      s.cfg.AutoCallDelay,
	})
	s.links[remote] = l
	return l
}

// removeClient drops the link to id and everything id published.
func (s *Session) removeClient(id domain.ParticipantID) {
	l, ok := s.links[id]
	if !ok {
		return
	}
	delete(s.links, id)
	l.Close()
	delete(s.delivered, id)

	var owned []string
	for _, sid := range s.order {
		if s.streams[sid].owner == id {
			owned = append(owned, sid)
		}
	}
	s.onStreamsRemoved(id, owned)
	s.logger.Info().Str("remote", string(id)).Msg("member removed")
}

func (s *Session) check(err error, remote domain.ParticipantID, op string) {
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", string(remote)).Msg(op)
	}
}

// observer receives Peer Link output on the executor.
type observer struct{ s *Session }

func (o observer) SendTo(remote domain.ParticipantID, p protocol.Payload) {
	o.s.cfg.Channel.SendMessage(p, o.s.cfg.Room, remote)
}

func (o observer) OnRemoteStream(remote domain.ParticipantID, st *domain.Stream) {
	o.s.onStreamAdded(remote, st)
}

func (o observer) OnClosed(remote domain.ParticipantID, reason error) {
	if reason != nil {
		o.s.logger.Warn().Err(reason).Str("remote", string(remote)).Msg("link closed")
	}
	o.s.removeClient(remote)
}

// provider supplies what a link sends when its call starts.
type provider struct{ s *Session }

func (p provider) LocalStream() *domain.Stream {
	if p.s.mixes() {
		return nil
	}
	return p.s.local
}

func (p provider) RemoteStreams(remote domain.ParticipantID) []*domain.Stream {
	if !p.s.forwards() {
		return nil
	}
	out := make([]*domain.Stream, 0, len(p.s.order))
	for _, id := range p.s.order {
		if pub := p.s.streams[id]; pub.owner != remote {
			out = append(out, pub.stream)
		}
	}
	return out
}

// Link returns the link toward remote, nil if there is none.
func (s *Session) Link(remote domain.ParticipantID) *peer.Link {
	var l *peer.Link
	s.exec.Do(func() { l = s.links[remote] })
	return l
}

// Members lists the remotes this session holds a link to.
func (s *Session) Members() []domain.ParticipantID {
	var out []domain.ParticipantID
	s.exec.Do(func() {
		for id := range s.links {
			out = append(out, id)
		}
	})
	return out
}

// Streams lists the registered remote stream ids in arrival order.
func (s *Session) Streams() []string {
	var out []string
	s.exec.Do(func() { out = append(out, s.order...) })
	return out
}

// Mixer is the session's mixing engine, nil unless it hosts an MCU room.
func (s *Session) Mixer() *mixer.Engine {
	var m *mixer.Engine
	s.exec.Do(func() { m = s.mixer })
	return m
}

// Sync waits until everything queued so far has run.
func (s *Session) Sync() { s.exec.Do(func() {}) }
