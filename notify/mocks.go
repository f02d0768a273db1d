package notify

import (
	"fmt"
	"sync"
)

// MockBroadcaster records published events for tests. It can be flipped to
// failure mode to exercise the swallow-and-log paths.
type MockBroadcaster struct {
	mu         sync.Mutex
	events     []AlertEvent
	shouldFail bool
}

// NewMockBroadcaster creates a mock broadcaster
func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

// Publish records the event, or fails when failure mode is set
func (m *MockBroadcaster) Publish(event AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return fmt.Errorf("mock broadcaster failure")
	}
	m.events = append(m.events, event)
	return nil
}

// SetShouldFail toggles failure mode
func (m *MockBroadcaster) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = fail
}

// Events returns a copy of the recorded events
func (m *MockBroadcaster) Events() []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AlertEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Reset clears recorded events
func (m *MockBroadcaster) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
