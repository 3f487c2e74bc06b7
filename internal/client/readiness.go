package client

import "time"

// #region readiness
// Readiness is the session's view of the backend.
type Readiness int

const (
	Unknown Readiness = iota
	Waking
	Ready
	Unreachable
)

func (r Readiness) String() string {
	switch r {
	case Unknown:
		return "unknown"
	case Waking:
		return "waking"
	case Ready:
		return "ready"
	case Unreachable:
		return "unreachable"
	default:
		return "invalid"
	}
}

// #endregion readiness

// #region clock
// Clock is the time source for the wake loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// #endregion clock
