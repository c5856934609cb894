package core

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// MediaTransport is the media engine capability owned by one Peer Link.
type MediaTransport interface {
	CreateOffer(ctx context.Context) (protocol.Description, error)
	CreateAnswer(ctx context.Context) (protocol.Description, error)
	SetLocalDescription(protocol.Description) error
	SetRemoteDescription(protocol.Description) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(protocol.Candidate) error
	// AddTrack sends track to the remote side as part of streamID.
	AddTrack(track domain.Track, streamID string) error
	// AddTransceiver adds a receive-only transceiver of kind.
	AddTransceiver(kind domain.TrackKind) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(protocol.Candidate))
	// OnStream is invoked once all tracks of a remote stream arrived.
	OnStream(func(*domain.Stream))
	OnStateChange(func(TransportState))
	// Close should stop all underlying media resources.
	Close() error
}

// TransportFactory builds one MediaTransport per remote participant.
type TransportFactory interface {
	NewTransport(remote domain.ParticipantID) (MediaTransport, error)
}
