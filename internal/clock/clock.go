// Package clock supplies timezone-aware instants to the guest link core.
package clock

import (
	"sync"
	"time"
)

// Clock is the single source of "now" for expiry checks and timestamps.
type Clock interface {
	Now() time.Time
	// Location is the default zone attached to naive dates.
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// New returns the wall clock reporting instants in loc. A nil loc means UTC.
func New(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c systemClock) Location() *time.Location {
	return c.loc
}

// Mock is a settable clock for tests.
type Mock struct {
	mu  sync.RWMutex
	now time.Time
	loc *time.Location
}

func NewMock(now time.Time) *Mock {
	loc := now.Location()
	if loc == nil {
		loc = time.UTC
	}
	return &Mock{now: now, loc: loc}
}

func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Mock) Location() *time.Location {
	return m.loc
}

func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
