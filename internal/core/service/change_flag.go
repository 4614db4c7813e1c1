package service

import "sync/atomic"

// ChangeFlag signals runtime changes (enable/disable, swap, connectivity)
// that require the control loop to reapply the active step.
// It only ever transitions false->true outside of Consume.
type ChangeFlag struct {
	raised atomic.Bool
}

func (f *ChangeFlag) Raise() {
	f.raised.Store(true)
}

func (f *ChangeFlag) Raised() bool {
	return f.raised.Load()
}

// Consume clears the flag and reports whether it was raised.
func (f *ChangeFlag) Consume() bool {
	return f.raised.CompareAndSwap(true, false)
}
