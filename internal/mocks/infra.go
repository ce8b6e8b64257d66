package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/store"
)

// MockTxRunner implements store.TxRunner by invoking the function with a
// nil transaction; the in-memory stores ignore it.
type MockTxRunner struct{}

// NewMockTxRunner creates a pass-through transaction runner.
func NewMockTxRunner() *MockTxRunner {
	return &MockTxRunner{}
}

// InTransaction runs fn directly.
func (r *MockTxRunner) InTransaction(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

// MockBroadcaster implements events.Broadcaster and records every event for
// later assertion.
type MockBroadcaster struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

// NewMockBroadcaster creates an empty recording broadcaster.
func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

// Broadcast records the event.
func (b *MockBroadcaster) Broadcast(ctx context.Context, event *events.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Subscribe returns a closed channel; the recorder has no live feeds.
func (b *MockBroadcaster) Subscribe(
	ctx context.Context,
	scope events.Scope,
) (<-chan *events.TaskEvent, error) {
	ch := make(chan *events.TaskEvent)
	close(ch)
	return ch, nil
}

// Close is a no-op.
func (b *MockBroadcaster) Close() error {
	return nil
}

// Events returns a snapshot of everything broadcast so far.
func (b *MockBroadcaster) Events() []*events.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*events.TaskEvent(nil), b.events...)
}

// EventsOfType filters the recorded events by type.
func (b *MockBroadcaster) EventsOfType(eventType events.EventType) []*events.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*events.TaskEvent
	for _, event := range b.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
