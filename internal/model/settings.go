package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the operator-owned singleton read at the start of every pass.
type Settings struct {
	MessageInterval   time.Duration
	BanFreeze         time.Duration
	SecondTouchDelay  time.Duration
	WorkingHoursStart int // local hour, inclusive
	WorkingHoursEnd   int // local hour, exclusive
	UpdatedAt         time.Time
}

func DefaultSettings() Settings {
	return Settings{
		MessageInterval:   6 * time.Minute,
		BanFreeze:         60 * time.Minute,
		SecondTouchDelay:  1440 * time.Minute,
		WorkingHoursStart: 11,
		WorkingHoursEnd:   21,
	}
}

func (s Settings) Validate() error {
	if s.MessageInterval <= 0 {
		return fmt.Errorf("%w: message interval must be > 0", ErrInvalidSettings)
	}
	if s.BanFreeze <= 0 {
		return fmt.Errorf("%w: ban freeze must be > 0", ErrInvalidSettings)
	}
	if s.SecondTouchDelay < 0 {
		return fmt.Errorf("%w: second touch delay must be >= 0", ErrInvalidSettings)
	}
	if s.WorkingHoursStart < 0 || s.WorkingHoursEnd > 24 || s.WorkingHoursStart >= s.WorkingHoursEnd {
		return fmt.Errorf("%w: working hours %d-%d", ErrInvalidSettings, s.WorkingHoursStart, s.WorkingHoursEnd)
	}
	return nil
}
