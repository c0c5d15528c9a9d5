package schedule

import (
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

// Window is the daily working-hours range [StartHour, EndHour) in Location.
type Window struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

func WindowFrom(s model.Settings, loc *time.Location) Window {
	return Window{Location: loc, StartHour: s.WorkingHoursStart, EndHour: s.WorkingHoursEnd}
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w Window) bounds(t time.Time) (start, end time.Time) {
	local := t.In(w.loc())
	y, m, d := local.Date()
	start = time.Date(y, m, d, w.StartHour, 0, 0, 0, w.loc())
	end = time.Date(y, m, d, w.EndHour, 0, 0, 0, w.loc())
	return start, end
}

func (w Window) Contains(t time.Time) bool {
	start, end := w.bounds(t)
	return !t.Before(start) && t.Before(end)
}

// Clamp moves t into the window: before start goes to start of the same
// local day, at or after end goes to start of the next local day.
func (w Window) Clamp(t time.Time) time.Time {
	start, end := w.bounds(t)
	switch {
	case t.Before(start):
		return start.UTC()
	case !t.Before(end):
		y, m, d := start.Date()
		return time.Date(y, m, d+1, w.StartHour, 0, 0, 0, w.loc()).UTC()
	default:
		return t.UTC()
	}
}
