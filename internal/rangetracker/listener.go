package rangetracker

// ListenerFunc is invoked exactly once per registered listener: err is nil on
// success (every overlapping segment became COMPLETE), or the filler's opaque
// error on failure. It is always called outside the tracker's lock.
type ListenerFunc func(err error)

// listenerEntry is shared across every PENDING segment it was attached to at
// registration time. remaining counts segments still owed; fired guarantees
// exactly-once delivery under the tracker's mutex, which is the sole arbiter.
type listenerEntry struct {
	inner     Range
	remaining int
	fired     bool
	cb        ListenerFunc
}

// firing is a queued callback invocation, collected while the tracker's lock
// is held and run only after it is released.
type firing struct {
	l   *listenerEntry
	err error
}

func (l *listenerEntry) fireLocked(err error) firing {
	l.fired = true
	return firing{l: l, err: err}
}
