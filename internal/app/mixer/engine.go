// Package mixer composites many source streams into one: video frames are
// tiled onto a canvas and audio buffers are summed, once per tick.
package mixer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
)

type Options struct {
	TileWidth     int           `mapstructure:"tile_width"`
	TileHeight    int           `mapstructure:"tile_height"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	MaxTiles      int           `mapstructure:"max_tiles"`
	SampleRate    int           `mapstructure:"sample_rate"`
	Channels      int           `mapstructure:"channels"`
}

func DefaultOptions() Options {
	return Options{
		TileWidth:     640,
		TileHeight:    480,
		FrameInterval: 10 * time.Millisecond,
		MaxTiles:      TileLimit,
		SampleRate:    48000,
		Channels:      1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TileWidth <= 0 {
		o.TileWidth = d.TileWidth
	}
	if o.TileHeight <= 0 {
		o.TileHeight = d.TileHeight
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = d.FrameInterval
	}
	if o.MaxTiles <= 0 || o.MaxTiles > TileLimit {
		o.MaxTiles = d.MaxTiles
	}
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = d.Channels
	}
	return o
}

// Capabilities are the media primitives the engine drives. Nil members are
// replaced by the in-process implementations.
type Capabilities struct {
	Video  VideoSource
	Audio  AudioSource
	Raster Raster
}

type videoSlot struct {
	streamID string
	trackID  string
	cancel   func()

	mu   sync.Mutex
	last *VideoFrame
}

func (s *videoSlot) set(f VideoFrame) {
	s.mu.Lock()
	s.last = &f
	s.mu.Unlock()
}

func (s *videoSlot) frame() *VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type audioTap struct {
	streamID string
	cancel   func()
}

type Engine struct {
	opts   Options
	video  VideoSource
	audio  AudioSource
	raster Raster
	bus    *Bus
	mixed  *domain.Stream

	// mu guards the slot list, taps and raster; the tick takes it too.
	mu      sync.Mutex
	slots   []*videoSlot
	taps    []*audioTap
	streams map[string]struct{}

	running atomic.Bool
	loopMu  sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	ticks   atomic.Uint64
}

func New(opts Options, caps Capabilities) *Engine {
	opts = opts.withDefaults()
	if caps.Video == nil {
		caps.Video = NewFrameSource()
	}
	if caps.Audio == nil {
		caps.Audio = NewSampleSource()
	}
	if caps.Raster == nil {
		caps.Raster = NewRGBARaster(opts.TileWidth, opts.TileHeight)
	}
	e := &Engine{
		opts:    opts,
		video:   caps.Video,
		audio:   caps.Audio,
		raster:  caps.Raster,
		bus:     NewBus(caps.Audio, opts.SampleRate, opts.Channels),
		streams: make(map[string]struct{}),
	}
	e.mixed = &domain.Stream{
		ID:     uuid.NewString(),
		Tracks: []domain.Track{caps.Video.CreateTrack(), caps.Audio.CreateTrack()},
	}
	return e
}

// MixedStream is the composite output. It exists from construction on,
// before any tick produced a frame.
func (e *Engine) MixedStream() *domain.Stream { return e.mixed }

// Start launches the tick loop. Calling it while running does nothing.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	e.loopMu.Lock()
	e.stop, e.done = stop, done
	e.loopMu.Unlock()

	log.Info().Str("module", "mixer").Str("stream", e.mixed.ID).Dur("interval", e.opts.FrameInterval).Msg("tick loop started")
	go e.loop(stop, done)
}

func (e *Engine) Running() bool { return e.running.Load() }

// loop never overlaps ticks: a slow tick delays the next one.
func (e *Engine) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.opts.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// AppendStream adds one slot per video track and one bus input per audio
// track of s. A stream that would exceed the tile cap is rejected whole.
func (e *Engine) AppendStream(s *domain.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[s.ID]; ok {
		return nil
	}
	videos := s.VideoTracks()
	if n := len(e.slots) + len(videos); n > e.opts.MaxTiles {
		return fmt.Errorf("%w: stream %s needs %d tiles, cap is %d", domain.ErrMixerCapacity, s.ID, n, e.opts.MaxTiles)
	}
	e.streams[s.ID] = struct{}{}

	for _, t := range videos {
		slot := &videoSlot{streamID: s.ID, trackID: t.ID(), cancel: func() {}}
		if ft, ok := t.(FrameTrack); ok {
			slot.cancel = ft.Subscribe(slot.set)
		} else {
			log.Warn().Str("module", "mixer").Str("stream", s.ID).Str("track", t.ID()).Msg("video track cannot be tapped, tile stays blank")
		}
		e.slots = append(e.slots, slot)
	}
	for _, t := range s.AudioTracks() {
		st, ok := t.(SampleTrack)
		if !ok {
			log.Warn().Str("module", "mixer").Str("stream", s.ID).Str("track", t.ID()).Msg("audio track cannot be tapped")
			continue
		}
		key := t.ID()
		e.bus.AddInput(key, s.ID, 1)
		cancel := st.Subscribe(func(d AudioData) { e.bus.Push(key, d) })
		e.taps = append(e.taps, &audioTap{streamID: s.ID, cancel: cancel})
	}
	log.Debug().Str("module", "mixer").Str("stream", s.ID).Int("slots", len(e.slots)).Msg("stream appended")
	return nil
}

// RemoveStreams evicts the slots and taps of ids. Remaining slots keep
// their relative order.
func (e *Engine) RemoveStreams(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	keep := e.slots[:0]
	for _, slot := range e.slots {
		if _, ok := drop[slot.streamID]; ok {
			slot.cancel()
			continue
		}
		keep = append(keep, slot)
	}
	if len(keep) < len(e.slots) {
		// later slots shift forward, so every tile is redrawn from blank
		e.raster.Clear(e.raster.Bounds())
	}
	clear(e.slots[len(keep):])
	e.slots = keep

	keepTaps := e.taps[:0]
	for _, tap := range e.taps {
		if _, ok := drop[tap.streamID]; ok {
			tap.cancel()
			continue
		}
		keepTaps = append(keepTaps, tap)
	}
	clear(e.taps[len(keepTaps):])
	e.taps = keepTaps

	for id := range drop {
		delete(e.streams, id)
		e.bus.RemoveStream(id)
	}
}

// SetGain changes the bus gain of every audio input of stream. A zero gain
// mutes a contribution without detaching it.
func (e *Engine) SetGain(stream string, gain float64) {
	e.bus.SetGain(stream, gain)
}

func (e *Engine) SlotCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

// StreamCount is the number of contributing streams.
func (e *Engine) StreamCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// SlotStreams lists the owning stream of every slot in tile order.
func (e *Engine) SlotStreams() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.slots))
	for _, s := range e.slots {
		out = append(out, s.streamID)
	}
	return out
}

func (e *Engine) Ticks() uint64 { return e.ticks.Load() }

// Tick composites one output frame and one mixed audio buffer. Slots with no
// frame yet stay blank. With no slots no video frame is produced.
func (e *Engine) Tick() {
	start := time.Now()
	w, h := e.opts.TileWidth, e.opts.TileHeight

	e.mu.Lock()
	var out *VideoFrame
	if n := len(e.slots); n > 0 {
		size, err := Layout(n, w, h, e.opts.MaxTiles)
		if err != nil {
			e.mu.Unlock()
			log.Error().Err(err).Str("module", "mixer").Msg("layout")
			return
		}
		e.raster.Resize(size.X, size.Y)
		for i, slot := range e.slots {
			f := slot.frame()
			if f == nil {
				continue
			}
			if img := f.Image(); img != nil {
				e.raster.Draw(img, TileRect(i, w, h))
			}
		}
		frame := RGBAToI420(e.raster.ReadPixels())
		out = &frame
	}
	e.mu.Unlock()

	if out != nil {
		e.video.OnFrame(*out)
	}
	e.bus.Mix()

	e.ticks.Inc()
	metrics.MixerTicks.Inc()
	metrics.MixerTickDuration.Observe(time.Since(start).Seconds())
}

// Release stops the tick loop, detaches every tap and clears the canvas.
// The engine can be started again afterwards.
func (e *Engine) Release() {
	if e.running.CompareAndSwap(true, false) {
		e.loopMu.Lock()
		stop, done := e.stop, e.done
		e.loopMu.Unlock()
		close(stop)
		<-done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, slot := range e.slots {
		slot.cancel()
	}
	for _, tap := range e.taps {
		tap.cancel()
	}
	e.slots = nil
	e.taps = nil
	clear(e.streams)
	e.bus.Reset()
	e.raster.Clear(e.raster.Bounds())
	log.Info().Str("module", "mixer").Str("stream", e.mixed.ID).Uint64("ticks", e.ticks.Load()).Msg("released")
}
