// Package rangetracker tracks which byte ranges of a logical file of known
// length have been materialized, coordinates concurrent fillers that produce
// the missing bytes, and notifies waiters the moment a byte range of interest
// becomes fully available. It performs no I/O; callers drive Gaps and the
// tracker only maintains interval and listener bookkeeping under a mutex.
package rangetracker

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Tracker is the coordination primitive for one logical file of fixed length.
// All exported methods are safe for concurrent use.
type Tracker struct {
	name   string
	length int64

	mu       sync.Mutex
	segments []*segment
}

// New returns an empty tracker: every byte of [0, length) starts absent.
func New(name string, length int64) (*Tracker, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidLength, length)
	}
	return &Tracker{name: name, length: length}, nil
}

// NewSeeded returns a tracker whose seed ranges are already COMPLETE. seed
// must be ordered ascending, non-overlapping and non-adjacent, and each range
// must lie within [0, length).
func NewSeeded(name string, length int64, seed []Range) (*Tracker, error) {
	t, err := New(name, length)
	if err != nil {
		return nil, err
	}
	segs := make([]*segment, 0, len(seed))
	prevEnd := int64(-1)
	for i, r := range seed {
		if err := validateBounds(r, length); err != nil {
			return nil, err
		}
		if i > 0 && r.Start <= prevEnd {
			return nil, fmt.Errorf("%w: seed range %s overlaps or touches the previous range", ErrInvalidRange, r)
		}
		segs = append(segs, &segment{start: r.Start, end: r.End, state: stateComplete})
		prevEnd = r.End
	}
	t.segments = segs
	return t, nil
}

// Name returns the tracker's diagnostic identifier.
func (t *Tracker) Name() string { return t.name }

// Length returns the tracker's immutable total length.
func (t *Tracker) Length() int64 { return t.length }

func validateBounds(r Range, length int64) error {
	if r.Start < 0 || r.End > length || r.Start >= r.End {
		return fmt.Errorf("%w: %s (length=%d)", ErrInvalidRange, r, length)
	}
	return nil
}

// WaitForRange registers interest in inner and ensures every absent byte of
// outer not already owned by a pending filler becomes owned by a Gap in the
// returned list. callback fires exactly once, after the tracker's lock is
// released: immediately with success if inner is already fully COMPLETE,
// otherwise once every PENDING segment overlapping inner has completed or any
// of them fails.
func (t *Tracker) WaitForRange(outer, inner Range, callback ListenerFunc) ([]*Gap, error) {
	if err := validateBounds(outer, t.length); err != nil {
		return nil, err
	}
	if err := validateBounds(inner, t.length); err != nil {
		return nil, err
	}
	if inner.Start < outer.Start || inner.End > outer.End {
		return nil, fmt.Errorf("%w: inner %s is not contained in outer %s", ErrInvalidListenerRange, inner, outer)
	}

	t.mu.Lock()
	gaps, fires := t.waitForRangeLocked(outer, inner, callback)
	t.mu.Unlock()

	deliver(fires)
	return gaps, nil
}

func (t *Tracker) waitForRangeLocked(outer, inner Range, callback ListenerFunc) ([]*Gap, []firing) {
	idxStart, idxEnd := t.overlapBoundsLocked(outer)
	existing := t.segments[idxStart:idxEnd]

	merged := make([]*segment, 0, len(existing)+2)
	var gaps []*Gap
	cursor := outer.Start
	for _, seg := range existing {
		if seg.start > cursor {
			ns := &segment{start: cursor, end: seg.start, state: statePending}
			merged = append(merged, ns)
			gaps = append(gaps, &Gap{tr: t, seg: ns, start: ns.start, end: ns.end, progress: ns.start})
		}
		merged = append(merged, seg)
		if seg.end > cursor {
			cursor = seg.end
		}
	}
	if cursor < outer.End {
		ns := &segment{start: cursor, end: outer.End, state: statePending}
		merged = append(merged, ns)
		gaps = append(gaps, &Gap{tr: t, seg: ns, start: ns.start, end: ns.end, progress: ns.start})
	}
	t.segments = slices.Replace(t.segments, idxStart, idxEnd, merged...)

	var overlap []*segment
	for _, seg := range merged {
		if seg.state == statePending && seg.overlaps(inner) {
			overlap = append(overlap, seg)
		}
	}

	var fires []firing
	if len(overlap) == 0 {
		le := &listenerEntry{inner: inner, cb: callback}
		fires = append(fires, le.fireLocked(nil))
	} else {
		le := &listenerEntry{inner: inner, remaining: len(overlap), cb: callback}
		for _, seg := range overlap {
			seg.listeners = append(seg.listeners, le)
		}
	}

	return gaps, fires
}

// WaitForRangeIfPending registers a listener on inner only if inner is
// currently fully covered by COMPLETE and/or PENDING segments and at least
// one byte is still PENDING. It returns false, without invoking callback, if
// inner is already fully COMPLETE or if any byte of inner is absent.
func (t *Tracker) WaitForRangeIfPending(inner Range, callback ListenerFunc) (bool, error) {
	if err := validateBounds(inner, t.length); err != nil {
		return false, err
	}

	t.mu.Lock()
	ok, fires := t.waitForRangeIfPendingLocked(inner, callback)
	t.mu.Unlock()

	deliver(fires)
	return ok, nil
}

func (t *Tracker) waitForRangeIfPendingLocked(inner Range, callback ListenerFunc) (bool, []firing) {
	idxStart, idxEnd := t.overlapBoundsLocked(inner)
	segs := t.segments[idxStart:idxEnd]

	cursor := inner.Start
	var overlap []*segment
	for _, seg := range segs {
		if seg.start > cursor {
			return false, nil
		}
		if seg.state == statePending {
			overlap = append(overlap, seg)
		}
		if seg.end > cursor {
			cursor = seg.end
		}
	}
	if cursor < inner.End {
		return false, nil
	}
	if len(overlap) == 0 {
		return false, nil
	}

	le := &listenerEntry{inner: inner, remaining: len(overlap), cb: callback}
	for _, seg := range overlap {
		seg.listeners = append(seg.listeners, le)
	}
	return true, nil
}

// AbsentRangeWithin returns the first (smallest-start) maximal sub-range of
// [s, e) that is not COMPLETE. PENDING segments count as absent. ok is false
// iff every byte of [s, e) is COMPLETE.
func (t *Tracker) AbsentRangeWithin(s, e int64) (r Range, ok bool, err error) {
	if s < 0 || e > t.length || s > e {
		return Range{}, false, fmt.Errorf("%w: [%d,%d) (length=%d)", ErrInvalidRange, s, e, t.length)
	}
	if s == e {
		return Range{}, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	query := Range{Start: s, End: e}
	idxStart, idxEnd := t.overlapBoundsLocked(query)

	cursor := s
	for _, seg := range t.segments[idxStart:idxEnd] {
		if seg.state == stateComplete {
			if seg.start > cursor {
				return Range{Start: cursor, End: seg.start}, true, nil
			}
			if seg.end > cursor {
				cursor = seg.end
			}
			continue
		}
		// PENDING counts as absent: the absent range swallows it and keeps
		// extending until the next COMPLETE segment or e.
		continue
	}
	if cursor < e {
		return Range{Start: cursor, End: e}, true, nil
	}
	return Range{}, false, nil
}

// CompletedRanges returns every COMPLETE segment in ascending order. Adjacent
// completions are always already merged.
func (t *Tracker) CompletedRanges() []Range {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Range, 0, len(t.segments))
	for _, seg := range t.segments {
		if seg.state == stateComplete {
			out = append(out, seg.rng())
		}
	}
	return out
}

// overlapBoundsLocked returns the half-open index range of t.segments whose
// intervals intersect r. Must be called with t.mu held.
func (t *Tracker) overlapBoundsLocked(r Range) (int, int) {
	idxStart := sort.Search(len(t.segments), func(i int) bool {
		return t.segments[i].end > r.Start
	})
	idxEnd := idxStart
	for idxEnd < len(t.segments) && t.segments[idxEnd].start < r.End {
		idxEnd++
	}
	return idxStart, idxEnd
}

// indexOfStartLocked locates a segment by its current start offset. Starts
// are unique and ascending, so binary search finds it directly. Must be
// called with t.mu held.
func (t *Tracker) indexOfStartLocked(start int64) int {
	return sort.Search(len(t.segments), func(i int) bool {
		return t.segments[i].start >= start
	})
}

func deliver(fires []firing) {
	for _, f := range fires {
		f.l.cb(f.err)
	}
}
