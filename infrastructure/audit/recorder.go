// Package audit implements the append-only audit record.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
)

type recorderConfig struct {
	clock   clock.Clock
	logger  *slog.Logger
	journal io.Writer
	logSink ports.LogSink
	newID   func() string
	retain  int
}

func defaultRecorderConfig() recorderConfig {
	return recorderConfig{
		clock:  clock.Real(),
		logger: slog.Default(),
		newID:  uuid.NewString,
		retain: 10_000,
	}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderConfig)

// WithClock sets the time source for event timestamps.
func WithClock(c clock.Clock) RecorderOption {
	return func(cfg *recorderConfig) { cfg.clock = c }
}

// WithLogger sets the logger events are reported on.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(cfg *recorderConfig) { cfg.logger = l }
}

// WithJournal appends every event as one JSON line to w.
func WithJournal(w io.Writer) RecorderOption {
	return func(cfg *recorderConfig) { cfg.journal = w }
}

// WithLogSink forwards every event to the UI log stream.
func WithLogSink(s ports.LogSink) RecorderOption {
	return func(cfg *recorderConfig) { cfg.logSink = s }
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(f func() string) RecorderOption {
	return func(cfg *recorderConfig) { cfg.newID = f }
}

// WithRetention caps the number of events kept in memory. Zero keeps
// everything.
func WithRetention(n int) RecorderOption {
	return func(cfg *recorderConfig) { cfg.retain = n }
}

// Recorder is the append-only audit record. Sequence numbers are
// assigned in Record order and never reused.
type Recorder struct {
	config recorderConfig
	events []entities.AuditEvent
	mu     sync.Mutex
	seq    uint64
	failed uint64
}

var _ ports.EventSink = (*Recorder)(nil)

// NewRecorder creates a Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	cfg := defaultRecorderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Recorder{config: cfg}
}

// Record appends an event, filling ID, Seq and Time when unset.
func (r *Recorder) Record(ctx context.Context, event entities.AuditEvent) {
	r.mu.Lock()
	r.seq++
	event.Seq = r.seq
	if event.ID == "" {
		event.ID = r.config.newID()
	}
	if event.Time.IsZero() {
		event.Time = r.config.clock.Now()
	}
	r.events = append(r.events, event)
	if r.config.retain > 0 && len(r.events) > r.config.retain {
		r.events = r.events[len(r.events)-r.config.retain:]
	}
	if r.config.journal != nil {
		if err := json.NewEncoder(r.config.journal).Encode(event); err != nil {
			r.failed++
			r.config.logger.ErrorContext(ctx, "audit journal write failed",
				"target", "sentinel::audit", "seq", event.Seq, "error", err)
		}
	}
	r.mu.Unlock()

	r.report(ctx, event)
}

func (r *Recorder) report(ctx context.Context, event entities.AuditEvent) {
	level := slog.LevelInfo
	if event.IsFailure() {
		level = slog.LevelWarn
	}
	attrs := eventAttrs(event)
	r.config.logger.LogAttrs(ctx, level, string(event.Type), append(attrs, slog.String("target", event.Target()))...)

	if r.config.logSink == nil {
		return
	}
	entry := entities.LogEntry{
		Time:    event.Time,
		Level:   level.String(),
		Target:  event.Target(),
		Message: string(event.Type),
	}
	for _, a := range attrs {
		entry.Attrs = append(entry.Attrs, entities.LogAttr{Key: a.Key, Type: "string", Value: a.Value.String()})
	}
	r.config.logSink.Publish(entry)
}

func eventAttrs(e entities.AuditEvent) []slog.Attr {
	attrs := []slog.Attr{slog.Uint64("seq", e.Seq)}
	if e.Kind != "" {
		attrs = append(attrs, slog.String("kind", string(e.Kind)))
	}
	if e.Resource != "" {
		attrs = append(attrs, slog.String("resource", e.Resource))
	}
	if e.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", e.TokenID))
	}
	if e.ManifestID != "" {
		attrs = append(attrs, slog.String("manifest_id", e.ManifestID))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, fmt.Sprint(e.Details[k])))
	}
	return attrs
}

// Events returns a copy of the retained events in sequence order.
func (r *Recorder) Events() []entities.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Since returns retained events with a sequence number above seq.
func (r *Recorder) Since(seq uint64) []entities.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.events), func(i int) bool { return r.events[i].Seq > seq })
	out := make([]entities.AuditEvent, len(r.events)-i)
	copy(out, r.events[i:])
	return out
}

// Seq returns the last assigned sequence number.
func (r *Recorder) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// JournalFailures returns how many events could not be journaled.
func (r *Recorder) JournalFailures() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// OpenJournal opens path for appending, creating it user-only.
func OpenJournal(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}
	return f, nil
}

// ReadJournal decodes a JSON-lines journal.
func ReadJournal(rd io.Reader) ([]entities.AuditEvent, error) {
	dec := json.NewDecoder(rd)
	var out []entities.AuditEvent
	for {
		var e entities.AuditEvent
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("corrupt audit journal after seq %d: %w", lastSeq(out), err)
		}
		out = append(out, e)
	}
}

func lastSeq(events []entities.AuditEvent) uint64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Seq
}
