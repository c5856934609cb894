package mixer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/Conference/internal/domain"
)

// VideoSource accepts composite frames and exposes them as a track.
type VideoSource interface {
	CreateTrack() domain.Track
	OnFrame(VideoFrame)
}

// AudioSource accepts mixed PCM and exposes it as a track.
type AudioSource interface {
	CreateTrack() domain.Track
	OnData(AudioData)
}

// FrameTrack is a video track the engine can tap.
type FrameTrack interface {
	domain.Track
	Subscribe(func(VideoFrame)) (cancel func())
}

// SampleTrack is an audio track the engine can tap.
type SampleTrack interface {
	domain.Track
	Subscribe(func(AudioData)) (cancel func())
}

// sourceTrack fans values out to its subscribers until stopped.
type sourceTrack[T any] struct {
	id   string
	kind domain.TrackKind

	mu      sync.RWMutex
	stopped bool
	next    uint64
	subs    map[uint64]func(T)
}

func newSourceTrack[T any](kind domain.TrackKind) *sourceTrack[T] {
	return &sourceTrack[T]{
		id:   uuid.NewString(),
		kind: kind,
		subs: make(map[uint64]func(T)),
	}
}

func (t *sourceTrack[T]) ID() string              { return t.id }
func (t *sourceTrack[T]) Kind() domain.TrackKind { return t.kind }

func (t *sourceTrack[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	clear(t.subs)
}

func (t *sourceTrack[T]) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

func (t *sourceTrack[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return func() {}
	}
	key := t.next
	t.next++
	t.subs[key] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, key)
	}
}

// emit calls subscribers outside the lock so they may take their own locks.
func (t *sourceTrack[T]) emit(v T) {
	t.mu.RLock()
	if t.stopped {
		t.mu.RUnlock()
		return
	}
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

type source[T any] struct {
	kind domain.TrackKind

	mu     sync.Mutex
	tracks []*sourceTrack[T]
}

func (s *source[T]) createTrack() *sourceTrack[T] {
	t := newSourceTrack[T](s.kind)
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
	return t
}

func (s *source[T]) emit(v T) {
	s.mu.Lock()
	live := s.tracks[:0]
	for _, t := range s.tracks {
		if !t.Stopped() {
			live = append(live, t)
		}
	}
	s.tracks = live
	tracks := append([]*sourceTrack[T](nil), live...)
	s.mu.Unlock()
	for _, t := range tracks {
		t.emit(v)
	}
}

// FrameSource is an in-process VideoSource. Its tracks are FrameTracks, so
// a composite can itself be tapped.
type FrameSource struct {
	source[VideoFrame]
}

func NewFrameSource() *FrameSource {
	return &FrameSource{source[VideoFrame]{kind: domain.KindVideo}}
}

func (s *FrameSource) CreateTrack() domain.Track { return s.createTrack() }
func (s *FrameSource) OnFrame(f VideoFrame)      { s.emit(f) }

// SampleSource is an in-process AudioSource.
type SampleSource struct {
	source[AudioData]
}

func NewSampleSource() *SampleSource {
	return &SampleSource{source[AudioData]{kind: domain.KindAudio}}
}

func (s *SampleSource) CreateTrack() domain.Track { return s.createTrack() }
func (s *SampleSource) OnData(d AudioData)        { s.emit(d) }
