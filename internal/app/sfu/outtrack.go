package sfu

import (
	"github.com/pion/rtp"
	"go.uber.org/atomic"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// RTPWriter is the subscriber side of a relay, usually a
// *webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack represents a single outgoing track to a subscriber.
type OutTrack struct {
	Writer RTPWriter
	state  atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(w RTPWriter) *OutTrack {
	return &OutTrack{Writer: w}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk()     { ot.state.Store(int32(TrackStateOk)) }
func (ot *OutTrack) MarkMuted()  { ot.state.Store(int32(TrackStateMuted)) }
func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(TrackStateDelete)) }
