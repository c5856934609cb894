package mixer

import (
	"math"
	"sync"

	"github.com/dkeye/Conference/internal/metrics"
)

// maxPendingSamples bounds what one input may buffer between two mixes.
const maxPendingSamples = 48000 * 2

type busInput struct {
	stream  string
	gain    float64
	pending []int16
}

// Bus sums every contributing input into one PCM stream. Each input has a
// gain stage; a zero gain keeps the input attached but silent. Buffers are
// not resampled: an input whose rate or channel count differs from the bus
// is dropped.
type Bus struct {
	sink       AudioSource
	sampleRate int
	channels   int

	mu     sync.Mutex
	inputs map[string]*busInput
	order  []string
}

func NewBus(sink AudioSource, sampleRate, channels int) *Bus {
	return &Bus{
		sink:       sink,
		sampleRate: sampleRate,
		channels:   channels,
		inputs:     make(map[string]*busInput),
	}
}

func (b *Bus) AddInput(key, stream string, gain float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inputs[key]; ok {
		return
	}
	b.inputs[key] = &busInput{stream: stream, gain: gain}
	b.order = append(b.order, key)
}

func (b *Bus) RemoveStream(stream string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keep := b.order[:0]
	for _, key := range b.order {
		if b.inputs[key].stream == stream {
			delete(b.inputs, key)
			continue
		}
		keep = append(keep, key)
	}
	b.order = keep
}

func (b *Bus) SetGain(stream string, gain float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, in := range b.inputs {
		if in.stream == stream {
			in.gain = gain
		}
	}
}

func (b *Bus) Inputs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inputs)
}

// Push queues one buffer from input key until the next Mix.
func (b *Bus) Push(key string, d AudioData) {
	if d.SampleRate != b.sampleRate || d.Channels != b.channels {
		metrics.MixerAudioDropped.Inc()
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	in, ok := b.inputs[key]
	if !ok {
		return
	}
	in.pending = append(in.pending, d.Samples...)
	if over := len(in.pending) - maxPendingSamples; over > 0 {
		in.pending = append(in.pending[:0], in.pending[over:]...)
	}
}

// Mix sums everything queued since the last call and hands it to the sink.
// Nothing is emitted when no input delivered samples.
func (b *Bus) Mix() {
	b.mu.Lock()
	n := 0
	for _, in := range b.inputs {
		n = max(n, len(in.pending))
	}
	if n == 0 {
		b.mu.Unlock()
		return
	}
	acc := make([]float64, n)
	for _, key := range b.order {
		in := b.inputs[key]
		for i, s := range in.pending {
			acc[i] += float64(s) * in.gain
		}
		in.pending = in.pending[:0]
	}
	b.mu.Unlock()

	out := make([]int16, n)
	for i, v := range acc {
		out[i] = saturate(v)
	}
	b.sink.OnData(AudioData{Samples: out, SampleRate: b.sampleRate, Channels: b.channels})
}

func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.inputs)
	b.order = b.order[:0]
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
