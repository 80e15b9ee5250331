// File: timestamp/timestamp.go
// Package timestamp provides the microsecond wall-clock value handed to
// read callbacks and used in log correlation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timestamp

import "time"

// microsPerSecond is the number of microseconds in one second.
const microsPerSecond int64 = 1000 * 1000

// Timestamp is a wall-clock instant with microsecond resolution.
// The zero value is "invalid" and formats as such.
type Timestamp struct {
	micros int64 // microseconds since the Unix epoch
}

// Now returns the current instant.
func Now() Timestamp {
	return Timestamp{micros: time.Now().UnixMicro()}
}

// FromTime converts a time.Time.
func FromTime(t time.Time) Timestamp {
	return Timestamp{micros: t.UnixMicro()}
}

// FromMicros builds a Timestamp from microseconds since the Unix epoch.
func FromMicros(micros int64) Timestamp {
	return Timestamp{micros: micros}
}

// Valid reports whether ts holds a real instant.
func (ts Timestamp) Valid() bool { return ts.micros != 0 }

// UnixMicros returns microseconds since the Unix epoch.
func (ts Timestamp) UnixMicros() int64 { return ts.micros }

// UnixSeconds returns whole seconds since the Unix epoch.
func (ts Timestamp) UnixSeconds() int64 { return ts.micros / microsPerSecond }

// Time converts back to a time.Time in the local zone.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(ts.micros)
}

// AddMicros returns ts shifted by d microseconds.
func (ts Timestamp) AddMicros(d int64) Timestamp {
	return Timestamp{micros: ts.micros + d}
}

// Before reports whether ts precedes other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.micros < other.micros
}

// String formats as "2006/01/02 15:04:05.000000".
func (ts Timestamp) String() string {
	if !ts.Valid() {
		return "invalid"
	}
	return ts.Time().Format("2006/01/02 15:04:05.000000")
}
