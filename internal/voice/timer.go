package voice

import "time"

type stopper interface {
	Stop() bool
}

// afterFunc matches time.AfterFunc so tests can substitute a manual clock.
type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// pendingTimer is the identity of one armed timer. A firing is honoured only
// while the controller still holds the same pointer.
type pendingTimer struct {
	handle stopper
}

func (t *pendingTimer) cancel() {
	if t != nil && t.handle != nil {
		t.handle.Stop()
	}
}
