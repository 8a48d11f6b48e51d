package rangetracker

import "errors"

// Sentinel errors returned by Tracker and Gap operations. Use errors.Is to
// match them; fmt.Errorf("%w: ...", Err...) wraps them with call-specific detail.
var (
	// ErrInvalidLength is returned by New/NewSeeded when length < 0.
	ErrInvalidLength = errors.New("rangetracker: invalid length")

	// ErrInvalidRange is returned when a range fails 0 <= start < end <= length,
	// or a seed range overlaps or touches the previous one.
	ErrInvalidRange = errors.New("rangetracker: invalid range")

	// ErrInvalidListenerRange is returned when inner is not contained in outer.
	ErrInvalidListenerRange = errors.New("rangetracker: invalid listener range")

	// ErrIllegalState is returned by a second terminal Gap call (OnCompletion
	// or OnFailure) on a Gap that already received one.
	ErrIllegalState = errors.New("rangetracker: illegal state")
)
