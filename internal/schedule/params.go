package schedule

import (
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/config"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

// Params are the pacing constants that are not operator settings.
type Params struct {
	Location        *time.Location
	CollisionWindow time.Duration
	LeadTime        time.Duration
	MinLead         time.Duration
	PaddedLead      time.Duration
}

func DefaultParams() Params {
	return Params{
		Location:        time.UTC,
		CollisionWindow: time.Minute,
		LeadTime:        2 * time.Minute,
		MinLead:         2 * time.Minute,
		PaddedLead:      4 * time.Minute,
	}
}

func ParamsFrom(c config.SchedulerConfig) (Params, error) {
	loc, err := c.Location()
	if err != nil {
		return Params{}, err
	}
	return Params{
		Location:        loc,
		CollisionWindow: c.CollisionWindow,
		LeadTime:        c.LeadTime,
		MinLead:         c.MinLead,
		PaddedLead:      c.PaddedLead,
	}, nil
}

// Allocator builds the allocator for one pass from the current settings.
func (p Params) Allocator(s model.Settings) Allocator {
	return Allocator{
		Window:    WindowFrom(s, p.Location),
		Interval:  s.MessageInterval,
		Tolerance: p.CollisionWindow,
	}
}
