package models

import "time"

// Position is a single GPS sample for one participant of a journey.
// Immutable once written; samples are only ever appended, pruned by
// retention count, or bulk-deleted when a participant's trail is
// discarded.
type Position struct {
	// ID is the store-generated sample identifier (UUID format).
	ID string `json:"id"`

	// Latitude in decimal degrees, positive north.
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees, positive east.
	Longitude float64 `json:"longitude"`

	// Timestamp is the server-assigned write time in Unix nanoseconds.
	// Ordering within one participant's stream follows this field.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the sample timestamp as a time.Time.
func (p *Position) Time() time.Time {
	return time.Unix(0, p.Timestamp)
}

// Age returns how long ago the sample was written, relative to now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Time())
}
