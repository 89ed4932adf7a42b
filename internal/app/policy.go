package app

import (
	"fmt"

	"github.com/skillswap/relay/internal/core"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	DropOldest
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop_new"
	case DropOldest:
		return "drop_oldest"
	case KickMember:
		return "kick"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Policy decides what happens to a frame whose recipient queue is full.
type Policy interface {
	OnBackPressure(recipient *core.Session) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(*core.Session) BackpressureAction {
	return p.Action
}

func ParsePolicy(name string) (Policy, error) {
	for _, a := range []BackpressureAction{DropFrame, DropOldest, KickMember} {
		if a.String() == name {
			return SimplePolicy{Action: a}, nil
		}
	}
	return nil, fmt.Errorf("unknown overflow policy %q", name)
}
