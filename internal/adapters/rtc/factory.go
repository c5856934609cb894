package rtc

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration with one ICE server per URL, falling
// back to DefaultWebRTCConfig when urls is empty.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{}
	for _, u := range urls {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg
}

// Factory builds one peer connection per remote participant. All
// connections share the relay manager, so a track received on one can be
// forwarded on any other.
type Factory struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	relays *sfu.RelayManager
}

func NewFactory(cfg webrtc.Configuration, relays *sfu.RelayManager) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if relays == nil {
		relays = sfu.NewRelayManager()
	}
	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg:    cfg,
		relays: relays,
	}, nil
}

func (f *Factory) NewTransport(remote domain.ParticipantID) (core.MediaTransport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newConnection(pc, uuid.NewString(), remote, f.relays), nil
}
