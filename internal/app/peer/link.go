// Package peer drives the offer/answer/ICE exchange with one remote
// participant. A Link is confined to its owner's executor: every method and
// every transport callback runs there, only State may be read elsewhere.
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/dkeye/Conference/internal/protocol"
)

var ErrNegotiationTimeout = errors.New("negotiation timed out")

// Observer receives what a Link produces. It is called on the executor.
type Observer interface {
	// SendTo relays a negotiation payload to the remote participant.
	SendTo(remote domain.ParticipantID, p protocol.Payload)
	OnRemoteStream(remote domain.ParticipantID, s *domain.Stream)
	// OnClosed reports a close the owner did not ask for. reason is nil for
	// a remote hangup.
	OnClosed(remote domain.ParticipantID, reason error)
}

type Params struct {
	Local     domain.ParticipantID
	Remote    domain.ParticipantID
	Initiator bool
	Topology  domain.Topology

	Transports core.TransportFactory
	Streams    core.StreamProvider
	Observer   Observer
	Executor   core.Executor

	// NegotiationTimeout bounds Negotiating; zero disables it.
	NegotiationTimeout time.Duration
	// AutoCallDelay starts the call on its own if nobody did; zero disables it.
	AutoCallDelay time.Duration
}

type Link struct {
	p      Params
	state  atomic.Int32
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	transport    core.MediaTransport
	started      bool
	transceivers bool

	// described is set once the answer went either way.
	described      bool
	transportUp    bool
	awaitingAnswer bool
	needOffer      bool
	remoteSet      bool

	pendingCandidates []protocol.Candidate
	queued            []*domain.Stream
	sent              map[string]struct{}
	received          map[string]*domain.Stream

	timeout  *time.Timer
	autoCall *time.Timer
}

func New(p Params) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		p:        p,
		ctx:      ctx,
		cancel:   cancel,
		sent:     make(map[string]struct{}),
		received: make(map[string]*domain.Stream),
		logger: log.With().Str("module", "peer").
			Str("participant", string(p.Local)).
			Str("remote", string(p.Remote)).Logger(),
	}
	if p.AutoCallDelay > 0 {
		l.autoCall = time.AfterFunc(p.AutoCallDelay, func() {
			p.Executor.Post(l.onAutoCall)
		})
	}
	l.logger.Debug().Bool("initiator", p.Initiator).Msg("link created")
	return l
}

func (l *Link) Remote() domain.ParticipantID { return l.p.Remote }
func (l *Link) Initiator() bool              { return l.p.Initiator }
func (l *Link) State() State                 { return State(l.state.Load()) }
func (l *Link) Started() bool                { return l.started }

// Sends reports whether the tracks of stream id were added to the transport.
func (l *Link) Sends(id string) bool {
	_, ok := l.sent[id]
	return ok
}

func (l *Link) closed() bool { return l.State() == StateClosed }

func (l *Link) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	metrics.PeerLinkTransitions.WithLabelValues(s.String()).Inc()
	l.logger.Info().Str("state", s.String()).Msg("link state")
}

// InitiateCall acquires the transport and adds the outgoing tracks. The
// initiator then sends an offer. Calls after the first one do nothing.
func (l *Link) InitiateCall() error {
	if l.closed() || l.started {
		return nil
	}
	l.started = true
	stopTimer(l.autoCall)

	tr, err := l.p.Transports.NewTransport(l.p.Remote)
	if err != nil {
		err = fmt.Errorf("%w: transport: %v", domain.ErrNegotiation, err)
		l.fail(err)
		return err
	}
	l.transport = tr
	l.wire(tr)
	l.setState(StateNegotiating)
	if l.p.NegotiationTimeout > 0 {
		l.timeout = time.AfterFunc(l.p.NegotiationTimeout, func() {
			l.p.Executor.Post(l.onTimeout)
		})
	}

	if s := l.p.Streams.LocalStream(); s != nil {
		l.addStream(s)
	}
	if l.p.Topology.Forwarding() {
		for _, s := range l.p.Streams.RemoteStreams(l.p.Remote) {
			l.addStream(s)
		}
	}
	for _, s := range l.queued {
		l.addStream(s)
	}
	l.queued = nil

	if l.p.Initiator {
		return l.sendOffer()
	}
	return nil
}

func (l *Link) wire(tr core.MediaTransport) {
	ex := l.p.Executor
	tr.OnICECandidate(func(c protocol.Candidate) {
		ex.Post(func() {
			if !l.closed() {
				l.p.Observer.SendTo(l.p.Remote, c)
			}
		})
	})
	tr.OnStream(func(s *domain.Stream) {
		ex.Post(func() { l.onRemoteStream(s) })
	})
	tr.OnStateChange(func(st core.TransportState) {
		ex.Post(func() { l.onTransportState(st) })
	})
}

func (l *Link) addStream(s *domain.Stream) {
	if _, ok := l.sent[s.ID]; ok {
		return
	}
	l.sent[s.ID] = struct{}{}
	for _, t := range s.Tracks {
		if err := l.transport.AddTrack(t, s.ID); err != nil {
			l.logger.Warn().Err(err).Str("stream", s.ID).Str("track", t.ID()).Msg("add track")
		}
	}
}

func (l *Link) ensureTransceivers() {
	if l.transceivers {
		return
	}
	l.transceivers = true
	for _, kind := range []domain.TrackKind{domain.KindAudio, domain.KindVideo} {
		if err := l.transport.AddTransceiver(kind); err != nil {
			l.logger.Warn().Err(err).Str("kind", string(kind)).Msg("add transceiver")
		}
	}
}

func (l *Link) sendOffer() error {
	if l.closed() || l.transport == nil {
		return nil
	}
	if l.awaitingAnswer {
		l.needOffer = true
		return nil
	}
	l.ensureTransceivers()
	offer, err := l.transport.CreateOffer(l.ctx)
	if err == nil {
		err = l.transport.SetLocalDescription(offer)
	}
	if err != nil {
		if l.closed() {
			return nil
		}
		err = fmt.Errorf("%w: offer: %v", domain.ErrNegotiation, err)
		l.fail(err)
		return err
	}
	l.awaitingAnswer = true
	l.p.Observer.SendTo(l.p.Remote, offer)
	return nil
}

// SendAnswer answers the remote offer already applied.
func (l *Link) SendAnswer() error {
	if l.closed() || l.transport == nil {
		return nil
	}
	l.ensureTransceivers()
	answer, err := l.transport.CreateAnswer(l.ctx)
	if err == nil {
		err = l.transport.SetLocalDescription(answer)
	}
	if err != nil {
		if l.closed() {
			return nil
		}
		err = fmt.Errorf("%w: answer: %v", domain.ErrNegotiation, err)
		l.fail(err)
		return err
	}
	l.p.Observer.SendTo(l.p.Remote, answer)
	l.described = true
	l.promote()
	return nil
}

// SetRemoteDescription applies an offer or answer from the remote side.
func (l *Link) SetRemoteDescription(d protocol.Description) error {
	if l.closed() || l.transport == nil {
		return nil
	}
	if err := l.transport.SetRemoteDescription(d); err != nil {
		err = fmt.Errorf("%w: remote %s: %v", domain.ErrNegotiation, d.Type, err)
		l.fail(err)
		return err
	}
	l.remoteSet = true
	for _, c := range l.pendingCandidates {
		l.applyCandidate(c)
	}
	l.pendingCandidates = nil
	return nil
}

// HandleOffer starts the call if needed, then answers.
func (l *Link) HandleOffer(d protocol.Description) error {
	if l.closed() {
		return nil
	}
	if err := l.InitiateCall(); err != nil {
		return err
	}
	if err := l.SetRemoteDescription(d); err != nil {
		return err
	}
	return l.SendAnswer()
}

// HandleAnswer applies an answer. Answers outside Negotiating or Connected
// are dropped.
func (l *Link) HandleAnswer(d protocol.Description) error {
	switch l.State() {
	case StateNegotiating, StateConnected:
	default:
		l.logger.Debug().Str("state", l.State().String()).Msg("answer dropped")
		return nil
	}
	if err := l.SetRemoteDescription(d); err != nil {
		return err
	}
	l.awaitingAnswer = false
	l.described = true
	l.promote()
	if l.needOffer {
		l.needOffer = false
		return l.sendOffer()
	}
	return nil
}

// AddICECandidate applies c once a remote description is set; earlier
// candidates are held in arrival order.
func (l *Link) AddICECandidate(c protocol.Candidate) {
	if l.closed() {
		return
	}
	if l.transport == nil || !l.remoteSet {
		l.pendingCandidates = append(l.pendingCandidates, c)
		return
	}
	l.applyCandidate(c)
}

func (l *Link) applyCandidate(c protocol.Candidate) {
	if err := l.transport.AddICECandidate(c); err != nil {
		l.logger.Warn().Err(err).Msg("add ice candidate")
	}
}

// AddRemoteTracks sends s to the remote side and renegotiates. Before the
// call started the stream is queued for InitiateCall.
func (l *Link) AddRemoteTracks(s *domain.Stream) error {
	if l.closed() {
		return nil
	}
	if !l.started {
		for _, q := range l.queued {
			if q.ID == s.ID {
				return nil
			}
		}
		l.queued = append(l.queued, s)
		return nil
	}
	if l.transport == nil || l.Sends(s.ID) {
		return nil
	}
	l.addStream(s)
	metrics.Renegotiations.Inc()
	return l.sendOffer()
}

// RemoveRemoteStream stops a received stream. It reports whether the link
// owned it.
func (l *Link) RemoveRemoteStream(id string) bool {
	s, ok := l.received[id]
	if !ok {
		return false
	}
	delete(l.received, id)
	s.Stop()
	return true
}

// HandleRemoteHangup closes the link and tells the observer.
func (l *Link) HandleRemoteHangup() {
	if l.closed() {
		return
	}
	l.close()
	l.p.Observer.OnClosed(l.p.Remote, nil)
}

// Close releases the transport and stops every received track. The observer
// is not called.
func (l *Link) Close() {
	if l.closed() {
		return
	}
	l.close()
}

func (l *Link) close() {
	l.setState(StateClosed)
	l.cancel()
	stopTimer(l.autoCall)
	stopTimer(l.timeout)
	for id, s := range l.received {
		s.Stop()
		delete(l.received, id)
	}
	l.queued = nil
	l.pendingCandidates = nil
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("close transport")
		}
		l.transport = nil
	}
}

func (l *Link) fail(err error) {
	if l.closed() {
		return
	}
	l.logger.Error().Err(err).Msg("link failed")
	l.close()
	l.p.Observer.OnClosed(l.p.Remote, err)
}

func (l *Link) promote() {
	if l.State() == StateNegotiating && l.described && l.transportUp {
		stopTimer(l.timeout)
		l.setState(StateConnected)
	}
}

func (l *Link) onAutoCall() {
	if l.closed() || l.started {
		return
	}
	l.logger.Debug().Msg("auto call")
	if err := l.InitiateCall(); err != nil {
		l.logger.Warn().Err(err).Msg("auto call")
	}
}

func (l *Link) onTimeout() {
	if l.State() != StateNegotiating {
		return
	}
	l.fail(fmt.Errorf("%w: %w after %s", domain.ErrNegotiation, ErrNegotiationTimeout, l.p.NegotiationTimeout))
}

func (l *Link) onRemoteStream(s *domain.Stream) {
	if l.closed() {
		s.Stop()
		return
	}
	if _, ok := l.received[s.ID]; ok {
		return
	}
	l.received[s.ID] = s
	l.p.Observer.OnRemoteStream(l.p.Remote, s)
}

func (l *Link) onTransportState(st core.TransportState) {
	if l.closed() {
		return
	}
	switch st {
	case core.TransportConnected:
		l.transportUp = true
		l.promote()
	case core.TransportDisconnected:
		l.transportUp = false
		l.logger.Warn().Msg("transport disconnected")
	case core.TransportFailed, core.TransportClosed:
		l.fail(fmt.Errorf("%w: transport %s", domain.ErrNegotiation, st))
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
