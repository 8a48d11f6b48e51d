package rangetracker

import (
	"errors"
	"sync"
	"testing"
)

func mustNew(t *testing.T, name string, length int64) *Tracker {
	t.Helper()
	tr, err := New(name, length)
	if err != nil {
		t.Fatalf("New(%q, %d): %v", name, length, err)
	}
	return tr
}

func completeGap(t *testing.T, g *Gap) {
	t.Helper()
	if err := g.OnCompletion(); err != nil {
		t.Fatalf("OnCompletion: %v", err)
	}
}

// scenario 1: a single full-range wait, completed, fires success and is
// reflected in CompletedRanges.
func TestWaitForRangeFullFill(t *testing.T) {
	tr := mustNew(t, "a", 10)

	var fired bool
	var fireErr error
	gaps, err := tr.WaitForRange(Range{0, 10}, Range{0, 10}, func(err error) {
		fired = true
		fireErr = err
	})
	if err != nil {
		t.Fatalf("WaitForRange: %v", err)
	}
	if len(gaps) != 1 || gaps[0].Start() != 0 || gaps[0].End() != 10 {
		t.Fatalf("gaps = %+v, want one [0,10)", gaps)
	}
	if fired {
		t.Fatalf("listener fired before completion")
	}

	completeGap(t, gaps[0])

	if !fired {
		t.Fatalf("listener did not fire after completion")
	}
	if fireErr != nil {
		t.Fatalf("fireErr = %v, want nil", fireErr)
	}
	got := tr.CompletedRanges()
	want := []Range{{0, 10}}
	if !rangesEqual(got, want) {
		t.Fatalf("CompletedRanges() = %v, want %v", got, want)
	}
}

// scenario 2: a second, narrower wait on an already-PENDING region attaches
// without new Gaps and fires as soon as progress passes its inner range,
// independently of the outer Gap's own completion.
func TestWaitForRangeAttachesToPending(t *testing.T) {
	tr := mustNew(t, "a", 10)

	gaps1, err := tr.WaitForRange(Range{0, 10}, Range{0, 10}, func(error) {})
	if err != nil {
		t.Fatalf("WaitForRange 1: %v", err)
	}
	if len(gaps1) != 1 {
		t.Fatalf("gaps1 = %+v, want one Gap", gaps1)
	}

	var l2Fired bool
	gaps2, err := tr.WaitForRange(Range{0, 10}, Range{2, 4}, func(err error) {
		l2Fired = true
		if err != nil {
			t.Errorf("L2 fired with error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("WaitForRange 2: %v", err)
	}
	if len(gaps2) != 0 {
		t.Fatalf("gaps2 = %+v, want none (already pending)", gaps2)
	}

	if err := gaps1[0].OnProgress(4); err != nil {
		t.Fatalf("OnProgress(4): %v", err)
	}
	if !l2Fired {
		t.Fatalf("L2 did not fire after progress reached its inner range")
	}

	completeGap(t, gaps1[0])
}

// scenario 3: a failed Gap fires failure and returns its bytes to absent.
func TestOnFailureReturnsBytesToAbsent(t *testing.T) {
	tr := mustNew(t, "a", 10)

	sentinel := errors.New("fetch failed")
	var gotErr error
	gaps, err := tr.WaitForRange(Range{0, 10}, Range{0, 10}, func(err error) {
		gotErr = err
	})
	if err != nil {
		t.Fatalf("WaitForRange: %v", err)
	}
	if err := gaps[0].OnFailure(sentinel); err != nil {
		t.Fatalf("OnFailure: %v", err)
	}
	if !errors.Is(gotErr, sentinel) {
		t.Fatalf("listener error = %v, want %v", gotErr, sentinel)
	}

	r, ok, err := tr.AbsentRangeWithin(0, 10)
	if err != nil {
		t.Fatalf("AbsentRangeWithin: %v", err)
	}
	if !ok || r != (Range{0, 10}) {
		t.Fatalf("AbsentRangeWithin(0,10) = %v, %v, want [0,10), true", r, ok)
	}
}

// scenario 4: seeded ranges split a wait into exactly the absent holes, and a
// listener's inner range determines which of those holes it actually waits
// on.
func TestSeededSplitsIntoHoles(t *testing.T) {
	tr, err := NewSeeded("a", 10, []Range{{2, 4}, {6, 8}})
	if err != nil {
		t.Fatalf("NewSeeded: %v", err)
	}

	r, ok, err := tr.AbsentRangeWithin(0, 10)
	if err != nil || !ok || r != (Range{0, 2}) {
		t.Fatalf("AbsentRangeWithin(0,10) = %v, %v, %v, want [0,2), true, nil", r, ok, err)
	}

	var fired bool
	gaps, err := tr.WaitForRange(Range{0, 10}, Range{3, 7}, func(error) {
		fired = true
	})
	if err != nil {
		t.Fatalf("WaitForRange: %v", err)
	}
	want := []Range{{0, 2}, {4, 6}, {8, 10}}
	if len(gaps) != len(want) {
		t.Fatalf("gaps = %+v, want %v", gaps, want)
	}
	for i, g := range gaps {
		if g.Start() != want[i].Start || g.End() != want[i].End {
			t.Fatalf("gaps[%d] = [%d,%d), want %v", i, g.Start(), g.End(), want[i])
		}
	}

	// Completing [0,2) and [8,10) must not fire L; only [4,6) overlaps inner.
	completeGap(t, gaps[0])
	if fired {
		t.Fatalf("L fired after completing [0,2), which it does not overlap")
	}
	completeGap(t, gaps[2])
	if fired {
		t.Fatalf("L fired after completing [8,10), which it does not overlap")
	}
	completeGap(t, gaps[1])
	if !fired {
		t.Fatalf("L did not fire after its only overlapping Gap completed")
	}
}

// scenario 5: wait_for_range_if_pending reports whether a range is wholly
// covered (COMPLETE or PENDING) with at least one still-PENDING byte.
func TestWaitForRangeIfPending(t *testing.T) {
	tr := mustNew(t, "a", 10)

	ok, err := tr.WaitForRangeIfPending(Range{0, 5}, func(error) {
		t.Errorf("listener invoked on empty tracker")
	})
	if err != nil {
		t.Fatalf("WaitForRangeIfPending: %v", err)
	}
	if ok {
		t.Fatalf("WaitForRangeIfPending on empty tracker = true, want false")
	}

	if _, err := tr.WaitForRange(Range{0, 5}, Range{0, 5}, func(error) {}); err != nil {
		t.Fatalf("WaitForRange: %v", err)
	}

	ok, err = tr.WaitForRangeIfPending(Range{1, 3}, func(error) {})
	if err != nil {
		t.Fatalf("WaitForRangeIfPending: %v", err)
	}
	if !ok {
		t.Fatalf("WaitForRangeIfPending on pending sub-range = false, want true")
	}
}

// scenario 6: exactly one of two concurrent full-range waits receives the
// Gap; both listeners still fire on its completion.
func TestConcurrentWaitForRangeSplitsOwnership(t *testing.T) {
	tr := mustNew(t, "a", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var allGaps []*Gap
	var fireCount int

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gaps, err := tr.WaitForRange(Range{0, 10}, Range{0, 10}, func(error) {
				mu.Lock()
				fireCount++
				mu.Unlock()
			})
			if err != nil {
				t.Errorf("WaitForRange: %v", err)
				return
			}
			mu.Lock()
			allGaps = append(allGaps, gaps...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(allGaps) != 1 {
		t.Fatalf("total gaps returned across both callers = %d, want 1", len(allGaps))
	}
	completeGap(t, allGaps[0])

	if fireCount != 2 {
		t.Fatalf("fireCount = %d, want 2", fireCount)
	}
}

func TestAbsentRangeWithinNotFoundWhenFullyComplete(t *testing.T) {
	tr, err := NewSeeded("a", 10, []Range{{0, 10}})
	if err != nil {
		t.Fatalf("NewSeeded: %v", err)
	}
	_, ok, err := tr.AbsentRangeWithin(0, 10)
	if err != nil {
		t.Fatalf("AbsentRangeWithin: %v", err)
	}
	if ok {
		t.Fatalf("AbsentRangeWithin on fully complete tracker returned ok=true")
	}
}

func TestAbsentRangeWithinTreatsPendingAsAbsent(t *testing.T) {
	tr := mustNew(t, "a", 10)
	if _, err := tr.WaitForRange(Range{2, 6}, Range{2, 6}, func(error) {}); err != nil {
		t.Fatalf("WaitForRange: %v", err)
	}
	r, ok, err := tr.AbsentRangeWithin(0, 10)
	if err != nil {
		t.Fatalf("AbsentRangeWithin: %v", err)
	}
	if !ok || r != (Range{0, 10}) {
		t.Fatalf("AbsentRangeWithin(0,10) = %v, %v, want [0,10), true", r, ok)
	}
}

func TestAbsentRangeWithinEmptyQueryIsNotFound(t *testing.T) {
	tr := mustNew(t, "a", 10)
	r, ok, err := tr.AbsentRangeWithin(3, 3)
	if err != nil {
		t.Fatalf("AbsentRangeWithin(3,3): %v", err)
	}
	if ok || r != (Range{}) {
		t.Fatalf("AbsentRangeWithin(3,3) = %v, %v, want zero Range, false", r, ok)
	}
}

func TestAbsentRangeWithinRejectsOutOfBounds(t *testing.T) {
	tr := mustNew(t, "a", 10)
	if _, _, err := tr.AbsentRangeWithin(5, 11); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("AbsentRangeWithin(5,11) err = %v, want ErrInvalidRange", err)
	}
	if _, _, err := tr.AbsentRangeWithin(-1, 5); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("AbsentRangeWithin(-1,5) err = %v, want ErrInvalidRange", err)
	}
	if _, _, err := tr.AbsentRangeWithin(6, 3); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("AbsentRangeWithin(6,3) err = %v, want ErrInvalidRange", err)
	}
}

func TestZeroLengthTracker(t *testing.T) {
	tr := mustNew(t, "empty", 0)
	if got := tr.CompletedRanges(); len(got) != 0 {
		t.Fatalf("CompletedRanges() = %v, want empty", got)
	}
	_, ok, err := tr.AbsentRangeWithin(0, 0)
	if err != nil {
		t.Fatalf("AbsentRangeWithin(0,0): %v", err)
	}
	if ok {
		t.Fatalf("AbsentRangeWithin(0,0) on zero-length tracker = true, want false")
	}
	if _, err := tr.WaitForRange(Range{0, 0}, Range{0, 0}, func(error) {}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("WaitForRange with empty outer err = %v, want ErrInvalidRange", err)
	}
}

func TestNewSeededRejectsOverlapAndOutOfBounds(t *testing.T) {
	if _, err := NewSeeded("a", 10, []Range{{0, 4}, {3, 6}}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("overlapping seed err = %v, want ErrInvalidRange", err)
	}
	if _, err := NewSeeded("a", 10, []Range{{0, 4}, {4, 6}}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("touching seed err = %v, want ErrInvalidRange", err)
	}
	if _, err := NewSeeded("a", 10, []Range{{0, 11}}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("out-of-bounds seed err = %v, want ErrInvalidRange", err)
	}
}

func TestSeededRoundTripsThroughCompletedRanges(t *testing.T) {
	seed := []Range{{2, 4}, {6, 8}}
	tr, err := NewSeeded("a", 10, seed)
	if err != nil {
		t.Fatalf("NewSeeded: %v", err)
	}
	if got := tr.CompletedRanges(); !rangesEqual(got, seed) {
		t.Fatalf("CompletedRanges() = %v, want %v", got, seed)
	}
}

func TestInnerMustBeContainedInOuter(t *testing.T) {
	tr := mustNew(t, "a", 10)
	_, err := tr.WaitForRange(Range{2, 4}, Range{0, 10}, func(error) {})
	if !errors.Is(err, ErrInvalidListenerRange) {
		t.Fatalf("err = %v, want ErrInvalidListenerRange", err)
	}
}

func rangesEqual(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
