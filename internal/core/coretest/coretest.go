// Package coretest provides in-memory fakes of the core capabilities for
// tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// Track is a fake media track that records Stop.
type Track struct {
	id   string
	kind domain.TrackKind

	mu      sync.Mutex
	stopped bool
}

func NewTrack(kind domain.TrackKind) *Track {
	return &Track{id: uuid.NewString(), kind: kind}
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// NewAVStream returns a stream with one audio and one video fake track.
func NewAVStream() *domain.Stream {
	return domain.NewStream(NewTrack(domain.KindAudio), NewTrack(domain.KindVideo))
}

// Stopped reports whether every track of s was stopped.
func Stopped(s *domain.Stream) bool {
	for _, t := range s.Tracks {
		if ft, ok := t.(*Track); ok && !ft.Stopped() {
			return false
		}
	}
	return true
}

// AddedTrack records one AddTrack call.
type AddedTrack struct {
	Track    domain.Track
	StreamID string
}

// Transport is a scripted MediaTransport. Callbacks fire only when the test
// calls the Emit methods.
type Transport struct {
	Remote domain.ParticipantID

	mu           sync.Mutex
	offers       int
	answers      int
	local        []protocol.Description
	remote       []protocol.Description
	candidates   []protocol.Candidate
	tracks       []AddedTrack
	transceivers []domain.TrackKind
	closed       bool

	onCandidate func(protocol.Candidate)
	onStream    func(*domain.Stream)
	onState     func(core.TransportState)

	// FailOffer makes CreateOffer return an error.
	FailOffer bool
}

var errScripted = errors.New("scripted failure")

// fakeSDP is the smallest description that still parses.
func fakeSDP(version int) string {
	return fmt.Sprintf("v=0\r\no=- 1 %d IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", version)
}

func (t *Transport) CreateOffer(context.Context) (protocol.Description, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailOffer {
		return protocol.Description{}, errScripted
	}
	t.offers++
	return protocol.Description{Type: protocol.SDPOffer, SDP: fakeSDP(t.offers)}, nil
}

func (t *Transport) CreateAnswer(context.Context) (protocol.Description, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers++
	return protocol.Description{Type: protocol.SDPAnswer, SDP: fakeSDP(t.answers)}, nil
}

func (t *Transport) SetLocalDescription(d protocol.Description) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = append(t.local, d)
	return nil
}

func (t *Transport) SetRemoteDescription(d protocol.Description) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = append(t.remote, d)
	return nil
}

func (t *Transport) AddICECandidate(c protocol.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) AddTrack(track domain.Track, streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, AddedTrack{Track: track, StreamID: streamID})
	return nil
}

func (t *Transport) AddTransceiver(kind domain.TrackKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transceivers = append(t.transceivers, kind)
	return nil
}

func (t *Transport) OnICECandidate(fn func(protocol.Candidate)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnStream(fn func(*domain.Stream)) {
	t.mu.Lock()
	t.onStream = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) EmitState(s core.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) EmitStream(s *domain.Stream) {
	t.mu.Lock()
	fn := t.onStream
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) EmitCandidate(c protocol.Candidate) {
	t.mu.Lock()
	fn := t.onCandidate
	t.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (t *Transport) Offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *Transport) Answers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answers
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Tracks() []AddedTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]AddedTrack(nil), t.tracks...)
}

// TracksOf returns the tracks added as part of stream id.
func (t *Transport) TracksOf(id string) []domain.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Track
	for _, a := range t.tracks {
		if a.StreamID == id {
			out = append(out, a.Track)
		}
	}
	return out
}

func (t *Transport) Transceivers() []domain.TrackKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.TrackKind(nil), t.transceivers...)
}

func (t *Transport) Candidates() []protocol.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Candidate(nil), t.candidates...)
}

func (t *Transport) RemoteDescriptions() []protocol.Description {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Description(nil), t.remote...)
}

// Factory hands out Transports and remembers them per remote.
type Factory struct {
	mu         sync.Mutex
	created    int
	transports map[domain.ParticipantID]*Transport
	Err        error
	// Gate, when set, holds NewTransport until it is closed.
	Gate chan struct{}
}

func NewFactory() *Factory {
	return &Factory{transports: make(map[domain.ParticipantID]*Transport)}
}

func (f *Factory) NewTransport(remote domain.ParticipantID) (core.MediaTransport, error) {
	if f.Gate != nil {
		<-f.Gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.created++
	t := &Transport{Remote: remote}
	f.transports[remote] = t
	return t, nil
}

func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Get returns the latest transport built for remote, nil if none.
func (f *Factory) Get(remote domain.ParticipantID) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[remote]
}

// Executor queues posted work until Drain runs it on the caller's goroutine.
type Executor struct {
	mu    sync.Mutex
	queue []func()
}

func (e *Executor) Post(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
}

// Drain runs queued work, including work posted while draining. It returns
// how many functions ran.
func (e *Executor) Drain() int {
	n := 0
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return n
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		fn()
		n++
	}
}
