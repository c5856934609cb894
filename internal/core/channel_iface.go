package core

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// Channel is the signaling bus as seen by a room member.
type Channel interface {
	// ID is the member's own participant id on this channel.
	ID() domain.ParticipantID
	// CreateOrJoinRoom returns the members the caller has to link with.
	// It fails with domain.ErrRoomFull when a star room rejects the role.
	CreateOrJoinRoom(ctx context.Context, room domain.RoomName, role domain.Role, topology domain.Topology) ([]domain.ParticipantID, error)
	LeaveRoom(room domain.RoomName)
	// SendMessage delivers payload to one member, or to every other member
	// when to is empty.
	SendMessage(payload protocol.Payload, room domain.RoomName, to domain.ParticipantID)
	Events() <-chan protocol.Event
}

// RoomWatcher is implemented by channels able to announce hosted rooms.
type RoomWatcher interface {
	SubscribeRooms(ctx context.Context) error
}
