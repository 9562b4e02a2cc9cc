// Package clock abstracts wall-clock time so the engine and registry can be
// tested against a controllable time source.
package clock

import "time"

// Clock is the time source used by every time-dependent component.
// Components never call time.Now directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by the standard time package.
func System() Clock { return systemClock{} }
