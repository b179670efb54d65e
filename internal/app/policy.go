package app

import "github.com/nkoval/parlor/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose connection refused a send.
type Policy interface {
	OnBackPressure(cid core.ConnID) BackpressureAction
}

// KickSlowPolicy disconnects any member that cannot keep up, so one stalled
// connection never delays delivery to the rest of the room.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(cid core.ConnID) BackpressureAction {
	return KickMember
}
