package app

import (
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomName, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the push.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return DropFrame
}
