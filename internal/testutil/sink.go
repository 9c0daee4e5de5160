// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// RecordingSink is an in-memory EventSink. It is safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []entities.AuditEvent
}

// Record appends the event and numbers it.
func (s *RecordingSink) Record(_ context.Context, e entities.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = uint64(len(s.events) + 1)
	s.events = append(s.events, e)
}

// Events returns a copy of everything recorded so far.
func (s *RecordingSink) Events() []entities.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Types returns the recorded event types in order.
func (s *RecordingSink) Types() []entities.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// Count returns how many events of type t were recorded.
func (s *RecordingSink) Count(t entities.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
