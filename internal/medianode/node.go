// Package medianode hosts sfu and mcu rooms: for every hosted room the hub
// announces, it joins as the central unit and runs a Room Session there.
package medianode

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/app/mixer"
	"github.com/dkeye/Conference/internal/app/session"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// ErrChannelClosed is returned by Run when the signaling channel closes
// while the node is still meant to be running.
var ErrChannelClosed = errors.New("media node signaling channel closed")

// Channel is a signaling channel that can also announce hosted rooms.
type Channel interface {
	core.Channel
	core.RoomWatcher
}

type Options struct {
	// Topologies the node hosts; others are ignored.
	Topologies []domain.Topology

	Transports         core.TransportFactory
	Mixer              mixer.Options
	MixerCapabilities  mixer.Capabilities
	NegotiationTimeout time.Duration
	AutoCallDelay      time.Duration
}

type Node struct {
	ch   Channel
	opts Options

	mu       sync.Mutex
	sessions map[domain.RoomName]*session.Session
}

func New(ch Channel, opts Options) *Node {
	if len(opts.Topologies) == 0 {
		opts.Topologies = []domain.Topology{domain.TopologySFU, domain.TopologyMCU}
	}
	return &Node{ch: ch, opts: opts, sessions: make(map[domain.RoomName]*session.Session)}
}

// Run subscribes to room announcements and serves events until ctx ends.
// It returns ErrChannelClosed if the channel closes first. Every hosted room
// is left on return.
func (n *Node) Run(ctx context.Context) error {
	if err := n.ch.SubscribeRooms(ctx); err != nil {
		return err
	}
	log.Info().Str("module", "medianode").Str("sid", string(n.ch.ID())).Msg("media node running")
	defer n.leaveAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.ch.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrChannelClosed
			}
			n.dispatch(ctx, ev)
		}
	}
}

func (n *Node) dispatch(ctx context.Context, ev protocol.Event) {
	if ev.Kind == protocol.EventRoomCreated {
		if slices.Contains(n.opts.Topologies, ev.Topology) {
			n.host(ctx, ev.Room, ev.Topology)
		}
		return
	}
	sess := n.Session(ev.Room)
	if sess == nil {
		return
	}
	sess.Deliver(ev)
	if ev.Kind == protocol.EventMessage {
		if _, bye := ev.Payload.(protocol.Bye); bye {
			n.releaseIfIdle(sess)
		}
	}
}

// host starts a session for room. The join happens before any later event
// is read, so nothing addressed to the new session is missed.
func (n *Node) host(ctx context.Context, room domain.RoomName, topology domain.Topology) {
	if n.Session(room) != nil {
		return
	}
	sess := session.New(session.Config{
		Room:               room,
		Role:               domain.RoleCentralUnit,
		Topology:           topology,
		Channel:            n.ch,
		Transports:         n.opts.Transports,
		Mixer:              n.opts.Mixer,
		MixerCapabilities:  n.opts.MixerCapabilities,
		NegotiationTimeout: n.opts.NegotiationTimeout,
		AutoCallDelay:      n.opts.AutoCallDelay,
	})
	if err := sess.Start(ctx); err != nil {
		lvl := log.Warn()
		if errors.Is(err, domain.ErrRoomFull) {
			lvl = log.Info()
		}
		lvl.Err(err).Str("module", "medianode").Str("room", string(room)).Msg("not hosting room")
		return
	}
	n.mu.Lock()
	n.sessions[room] = sess
	n.mu.Unlock()
	log.Info().Str("module", "medianode").Str("room", string(room)).Str("topology", string(topology)).Msg("hosting room")
}

// releaseIfIdle leaves a room once its last member is gone, so the hub can
// delete it.
func (n *Node) releaseIfIdle(sess *session.Session) {
	if len(sess.Members()) > 0 {
		return
	}
	n.mu.Lock()
	if n.sessions[sess.Room()] == sess {
		delete(n.sessions, sess.Room())
	}
	n.mu.Unlock()
	sess.Leave()
	log.Info().Str("module", "medianode").Str("room", string(sess.Room())).Msg("released idle room")
}

func (n *Node) leaveAll() {
	n.mu.Lock()
	all := make([]*session.Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		all = append(all, s)
	}
	clear(n.sessions)
	n.mu.Unlock()
	for _, s := range all {
		s.Leave()
	}
}

// Session returns the session hosting room, nil if there is none.
func (n *Node) Session(room domain.RoomName) *session.Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[room]
}

// Rooms lists the hosted rooms.
func (n *Node) Rooms() []domain.RoomName {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.RoomName, 0, len(n.sessions))
	for r := range n.sessions {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
