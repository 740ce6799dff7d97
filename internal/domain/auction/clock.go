package auction

import "time"

// Clock interface for time operations (supports testing). All core
// components agree on UTC.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using actual system time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock implements Clock for testing
type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}
