// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

var _ ingest.Clock = Clock{}

// Clock reports the current time in UTC, the zone every stored timestamp
// (created_at, scraped_at, breaker windows) uses.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
