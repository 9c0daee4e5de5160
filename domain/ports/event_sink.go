package ports

import (
	"context"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// EventSink is the append-only audit record. From the core's point of
// view it is write-only.
type EventSink interface {
	// Record appends an event. Implementations assign ID, Seq and Time
	// when they are unset.
	Record(ctx context.Context, event entities.AuditEvent)
}

// LogSink receives UI log stream entries.
type LogSink interface {
	Publish(entry entities.LogEntry)
}

// NopEventSink discards events.
type NopEventSink struct{}

func (NopEventSink) Record(context.Context, entities.AuditEvent) {}
