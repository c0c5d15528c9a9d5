package model

import "time"

// ProviderState is the singleton ban record of the sending identity.
// BannedUntil is set iff Banned.
type ProviderState struct {
	Banned      bool       `db:"banned"`
	BannedUntil *time.Time `db:"banned_until"` // nullable
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Blocking reports whether sends must be held back at now.
func (s ProviderState) Blocking(now time.Time) bool {
	return s.Banned && s.BannedUntil != nil && now.Before(*s.BannedUntil)
}

// Elapsed reports whether a ban is recorded but its freeze is over.
func (s ProviderState) Elapsed(now time.Time) bool {
	return s.Banned && (s.BannedUntil == nil || !now.Before(*s.BannedUntil))
}

// Until returns banned_until, or the zero time when not banned.
func (s ProviderState) Until() time.Time {
	if !s.Banned || s.BannedUntil == nil {
		return time.Time{}
	}
	return *s.BannedUntil
}
