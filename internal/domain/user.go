// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 36
	MaxRoomNameLen      = 64
)

var (
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrRoomNameEmpty   = errors.New("room name empty")
)

type ParticipantID string

// NewParticipantID returns a fresh opaque connection identifier.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Role is only meaningful in star rooms.
type Role string

const (
	RoleNone        Role = ""
	RoleCentralUnit Role = "central_unit"
	RoleSideUnit    Role = "side_unit"
)

// Opposite returns the role a star participant links to.
func (r Role) Opposite() Role {
	if r == RoleCentralUnit {
		return RoleSideUnit
	}
	return RoleCentralUnit
}

type Participant struct {
	ID   ParticipantID `json:"id"`
	Role Role          `json:"role,omitempty"`
}

func NewParticipant(id ParticipantID, role Role) *Participant {
	return &Participant{ID: id, Role: role}
}

func ValidateRoomName(name string) (RoomName, error) {
	if len(name) == 0 {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}
