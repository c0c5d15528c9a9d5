package schedule

import (
	"errors"
	"time"
)

var ErrNoSlot = errors.New("no free slot")

const defaultMaxSteps = 10000

// Allocator finds collision-free in-window send times.
type Allocator struct {
	Window    Window
	Interval  time.Duration // advance step on collision
	Tolerance time.Duration // taken times closer than this collide
	MaxSteps  int
}

// Allocate returns the first slot at or after desired that is inside the
// window and at least Tolerance away from every time in taken.
func (a Allocator) Allocate(desired time.Time, taken []time.Time) (time.Time, error) {
	maxSteps := a.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	step := a.Interval
	if step <= 0 {
		step = a.Tolerance
	}

	cand := a.Window.Clamp(desired)
	for i := 0; ; i++ {
		if !a.collides(cand, taken) {
			return cand, nil
		}
		if i >= maxSteps || step <= 0 {
			return time.Time{}, ErrNoSlot
		}
		cand = a.Window.Clamp(cand.Add(step))
	}
}

func (a Allocator) collides(cand time.Time, taken []time.Time) bool {
	for _, t := range taken {
		d := t.Sub(cand)
		if d < 0 {
			d = -d
		}
		if d < a.Tolerance {
			return true
		}
	}
	return false
}
