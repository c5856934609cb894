package rtc

import (
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/domain"
)

func kindOf(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func codecType(k domain.TrackKind) webrtc.RTPCodecType {
	if k == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// RemoteTrack is a received track. Its RTP is relayed to every connection
// the track is added to; Stop ends the relay.
type RemoteTrack struct {
	id      string
	track   *webrtc.TrackRemote
	relays  *sfu.RelayManager
	stopped atomic.Bool
}

func newRemoteTrack(track *webrtc.TrackRemote, relays *sfu.RelayManager) *RemoteTrack {
	return &RemoteTrack{id: uuid.NewString(), track: track, relays: relays}
}

func (t *RemoteTrack) ID() string              { return t.id }
func (t *RemoteTrack) Kind() domain.TrackKind { return kindOf(t.track.Kind()) }
func (t *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return t.track.Codec()
}

func (t *RemoteTrack) read() (*rtp.Packet, error) {
	p, _, err := t.track.ReadRTP()
	return p, err
}

func (t *RemoteTrack) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		t.relays.StopRelay(t.id)
	}
}

func (t *RemoteTrack) Stopped() bool { return t.stopped.Load() }

// LocalTrackProvider is implemented by tracks backed by a pion local track,
// such as a capture or file source.
type LocalTrackProvider interface {
	domain.Track
	TrackLocal() webrtc.TrackLocal
}
