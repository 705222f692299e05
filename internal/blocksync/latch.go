package blocksync

import "time"

// latch is a logical primitive — a timestamp plus an in-flight counter —
// not a mutex. It lives inside a builder's state and is consulted only
// from the event loop that owns the builder, never from a worker task.
// It exists to prevent request amplification while a need-next is
// awaiting a slow peer: once dispatched, a builder's repeated need-next
// polls return "nothing to do" until the response arrives, the latch
// times out, or it is force-reset.
type latch struct {
	dispatchedAt time.Time
	inFlight     int
}

// Dispatch records that a need-next has just been sent.
func (l *latch) Dispatch(now time.Time) {
	l.dispatchedAt = now
	l.inFlight++
}

// Release decrements the in-flight counter on a response, success or
// failure.
func (l *latch) Release() {
	if l.inFlight > 0 {
		l.inFlight--
	}
}

// Reset clears the latch unconditionally, used by the latch-reset tick to
// unstick a builder whose response never arrived and whose timeout did
// not fire on its own (e.g. the timer goroutine was itself delayed).
func (l *latch) Reset() {
	l.inFlight = 0
	l.dispatchedAt = time.Time{}
}

// Busy reports whether a need-next is currently outstanding and has not
// yet exceeded resetInterval.
func (l *latch) Busy(now time.Time, resetInterval time.Duration) bool {
	if l.inFlight <= 0 {
		return false
	}
	if resetInterval > 0 && now.Sub(l.dispatchedAt) >= resetInterval {
		return false
	}
	return true
}
