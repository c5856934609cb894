package domain

import "errors"

var (
	ErrRoomFull           = errors.New("room already has a central unit")
	ErrRoomNotFound       = errors.New("room not found")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNegotiation        = errors.New("negotiation failed")
	ErrMediaAcquisition   = errors.New("local media acquisition failed")
	ErrMixerCapacity      = errors.New("mixer tile capacity exceeded")
	ErrLinkClosed         = errors.New("peer link closed")
	ErrBackpressure       = errors.New("backpressure")
)
