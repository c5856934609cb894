package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type source struct {
	packets chan *rtp.Packet
}

func newSource() *source { return &source{packets: make(chan *rtp.Packet, 16)} }

func (s *source) read() (*rtp.Packet, error) {
	p, ok := <-s.packets
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

type sink struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *sink) got() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.seqs...)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}}
}

func TestRelayFansOut(t *testing.T) {
	m := NewRelayManager()
	src := newSource()
	relay := m.StartRelay(context.Background(), "t1", src.read)

	a, b := &sink{}, &sink{}
	require.True(t, m.AddSubscriber("t1", "a", a))
	require.True(t, m.AddSubscriber("t1", "b", b))
	require.False(t, m.AddSubscriber("nope", "a", a))

	src.packets <- packet(1)
	src.packets <- packet(2)
	require.Eventually(t, func() bool { return len(a.got()) == 2 && len(b.got()) == 2 }, time.Second, time.Millisecond)

	m.SetMuted("t1", "b", true)
	src.packets <- packet(3)
	require.Eventually(t, func() bool { return len(a.got()) == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []uint16{1, 2}, b.got())

	m.MarkSubscriberDelete("t1", "a")
	m.SetMuted("t1", "b", false)
	src.packets <- packet(4)
	require.Eventually(t, func() bool { return len(b.got()) == 3 }, time.Second, time.Millisecond)
	require.Len(t, a.got(), 3)
	require.Eventually(t, func() bool { return relay.Subscribers() == 1 }, time.Second, time.Millisecond)

	close(src.packets)
	<-relay.Done()
	require.Eventually(t, func() bool { return !m.HasRelay("t1") }, time.Second, time.Millisecond)
}

func TestRelayDropsFailingSubscriber(t *testing.T) {
	m := NewRelayManager()
	src := newSource()
	relay := m.StartRelay(context.Background(), "t1", src.read)

	bad, good := &sink{err: errors.New("closed")}, &sink{}
	m.AddSubscriber("t1", "bad", bad)
	m.AddSubscriber("t1", "good", good)

	src.packets <- packet(1)
	require.Eventually(t, func() bool { return relay.Subscribers() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []uint16{1}, good.got())
	m.StopRelay("t1")
	require.False(t, m.HasRelay("t1"))
}
