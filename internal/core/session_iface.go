package core

import "github.com/dkeye/Conference/internal/domain"

type SessionID string

// MemberSession binds a participant id and its push endpoint.
// This is what the hub stores and fans out to.
type MemberSession interface {
	ID() domain.ParticipantID
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}

// StreamProvider is implemented by the owner of Peer Links and supplies the
// tracks a link sends when it starts.
type StreamProvider interface {
	// LocalStream is the owner's own captured stream, nil for a media node.
	LocalStream() *domain.Stream
	// RemoteStreams are the already-known streams to send to remote.
	RemoteStreams(remote domain.ParticipantID) []*domain.Stream
}

// Executor serializes work for one room.
type Executor interface {
	Post(fn func())
}
