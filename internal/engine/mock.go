package engine

import (
	"context"
	"sync"
)

// MockEngine is a scriptable engine used in tests and when no realtime
// credentials are configured.
type MockEngine struct {
	mu     sync.Mutex
	events chan Event
	spoken []string
	closed bool
}

func NewMockEngine() *MockEngine {
	return &MockEngine{events: make(chan Event, 64)}
}

func (e *MockEngine) Events() <-chan Event {
	return e.events
}

func (e *MockEngine) Speak(_ context.Context, instructions string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.spoken = append(e.spoken, instructions)
	e.events <- Event{Type: EventStartedSpeaking}
	e.events <- Event{Type: EventStoppedSpeaking}
	return nil
}

// Emit injects an event as if the engine produced it.
func (e *MockEngine) Emit(evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.events <- evt
}

// Spoken returns the instructions passed to Speak so far.
func (e *MockEngine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.spoken))
	copy(out, e.spoken)
	return out
}

func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.events)
	return nil
}
