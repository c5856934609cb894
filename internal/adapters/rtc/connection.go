// Package rtc implements the media transport on top of pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// ErrUnsupportedTrack is returned for tracks that carry no RTP, such as the
// raw frames of an in-process mixer.
var ErrUnsupportedTrack = errors.New("track cannot be sent over webrtc")

// streamAssembleWait bounds how long tracks of a stream the remote
// description did not announce are grouped before the stream is reported.
const streamAssembleWait = 200 * time.Millisecond

type subscription struct {
	src string
	dst string
}

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	relays *sfu.RelayManager
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	onICE    func(protocol.Candidate)
	onStream func(*domain.Stream)
	onState  func(core.TransportState)
	expected map[string]int
	pending  map[string][]domain.Track
	received []*RemoteTrack
	subs     []subscription
	closed   bool
}

func newConnection(pc *webrtc.PeerConnection, id string, remote domain.ParticipantID, relays *sfu.RelayManager) *WebRTCConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:       pc,
		id:       id,
		relays:   relays,
		logger:   log.With().Str("module", "webrtc").Str("remote", string(remote)).Str("conn", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		expected: make(map[string]int),
		pending:  make(map[string][]domain.Track),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(candidateFromInit(cand.ToJSON()))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.onPeerState(transportState(s))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.onTrack(track)
	})
	return c
}

// onPeerState mutes what this connection forwards while the peer is
// disconnected and resumes it once connected.
func (c *WebRTCConnection) onPeerState(s core.TransportState) {
	c.mu.Lock()
	fn := c.onState
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	if s == core.TransportDisconnected || s == core.TransportConnected {
		muted := s == core.TransportDisconnected
		for _, sub := range subs {
			c.relays.SetMuted(sub.src, sub.dst, muted)
		}
		if len(subs) > 0 {
			c.logger.Debug().Bool("muted", muted).Int("subscriptions", len(subs)).Msg("forwarding")
		}
	}
	if fn != nil {
		fn(s)
	}
}

func (c *WebRTCConnection) onTrack(track *webrtc.TrackRemote) {
	rt := newRemoteTrack(track, c.relays)
	c.relays.StartRelay(c.ctx, rt.ID(), rt.read)

	sid := track.StreamID()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		rt.Stop()
		return
	}
	c.received = append(c.received, rt)
	c.pending[sid] = append(c.pending[sid], rt)
	want, announced := c.expected[sid]
	ready := announced && len(c.pending[sid]) >= want
	first := len(c.pending[sid]) == 1
	c.mu.Unlock()

	switch {
	case ready:
		c.flush(sid)
	case !announced && first:
		time.AfterFunc(streamAssembleWait, func() { c.flush(sid) })
	}
}

// flush reports the tracks gathered for sid as one stream.
func (c *WebRTCConnection) flush(sid string) {
	c.mu.Lock()
	tracks := c.pending[sid]
	delete(c.pending, sid)
	fn := c.onStream
	closed := c.closed
	c.mu.Unlock()
	if len(tracks) == 0 || closed || fn == nil {
		return
	}
	fn(&domain.Stream{ID: sid, Tracks: tracks})
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (protocol.Description, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Description{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return protocol.Description{Type: protocol.SDPOffer, SDP: offer.SDP}, nil
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context) (protocol.Description, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Description{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return protocol.Description{Type: protocol.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *WebRTCConnection) SetLocalDescription(d protocol.Description) error {
	return c.pc.SetLocalDescription(sessionDescription(d))
}

func (c *WebRTCConnection) SetRemoteDescription(d protocol.Description) error {
	counts, err := streamTrackCounts(d.SDP)
	if err != nil {
		return fmt.Errorf("parse remote sdp: %w", err)
	}
	c.mu.Lock()
	c.expected = counts
	c.mu.Unlock()
	return c.pc.SetRemoteDescription(sessionDescription(d))
}

func (c *WebRTCConnection) AddICECandidate(cand protocol.Candidate) error {
	mid, idx := cand.SDPMid, cand.SDPMLineIndex
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

// AddTrack sends track under streamID. Received tracks are forwarded through
// their relay; pion local tracks are added as they are.
func (c *WebRTCConnection) AddTrack(track domain.Track, streamID string) error {
	switch t := track.(type) {
	case *RemoteTrack:
		local, err := webrtc.NewTrackLocalStaticRTP(t.Codec().RTPCodecCapability, t.ID(), streamID)
		if err != nil {
			return err
		}
		sender, err := c.pc.AddTrack(local)
		if err != nil {
			return err
		}
		go c.drainRTCP(sender)
		dst := c.id + "/" + t.ID()
		if !c.relays.AddSubscriber(t.ID(), dst, local) {
			c.logger.Warn().Str("track", t.ID()).Msg("relay gone before subscribe")
		}
		c.mu.Lock()
		c.subs = append(c.subs, subscription{src: t.ID(), dst: dst})
		c.mu.Unlock()
		return nil
	case LocalTrackProvider:
		sender, err := c.pc.AddTrack(t.TrackLocal())
		if err != nil {
			return err
		}
		go c.drainRTCP(sender)
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedTrack, track)
}

// drainRTCP keeps the sender's interceptors running.
func (c *WebRTCConnection) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) AddTransceiver(kind domain.TrackKind) error {
	_, err := c.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *WebRTCConnection) OnICECandidate(fn func(protocol.Candidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStream(fn func(*domain.Stream)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	received := c.received
	c.subs, c.received = nil, nil
	clear(c.pending)
	c.mu.Unlock()

	c.cancel()
	for _, s := range subs {
		c.relays.MarkSubscriberDelete(s.src, s.dst)
	}
	for _, rt := range received {
		rt.Stop()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func sessionDescription(d protocol.Description) webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if d.Type == protocol.SDPAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: d.SDP}
}

func candidateFromInit(ci webrtc.ICECandidateInit) protocol.Candidate {
	c := protocol.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		c.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		c.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return c
}

func transportState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	}
	return core.TransportNew
}
