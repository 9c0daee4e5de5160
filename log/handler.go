// Package log streams structured log records to UI subscribers.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
)

// TargetKey is the attribute naming the component that logged a record.
const TargetKey = "target"

// DefaultTarget is used when a record carries no target attribute.
const DefaultTarget = "sentinel"

// StreamHandler implements slog.Handler by publishing every record as a
// UI log entry.
type StreamHandler struct {
	sink   ports.LogSink
	target string
	group  string
	attrs  []entities.LogAttr
	opts   handlerConfig
}

var _ slog.Handler = (*StreamHandler)(nil)

// HandlerOption configures the StreamHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	next          slog.Handler
	defaultTarget string
	level         slog.Level
	addSource     bool
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		level:         slog.LevelInfo,
		defaultTarget: DefaultTarget,
	}
}

// WithLevel sets the minimum level published.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithSource adds a "source" attribute with the caller's file and line.
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithDefaultTarget sets the target for records without one.
func WithDefaultTarget(target string) HandlerOption {
	return func(c *handlerConfig) {
		if target != "" {
			c.defaultTarget = target
		}
	}
}

// WithNext forwards every record to h as well, after publishing it.
// The CLI uses it to keep writing to stderr.
func WithNext(h slog.Handler) HandlerOption {
	return func(c *handlerConfig) {
		c.next = h
	}
}

// NewStreamHandler creates a handler publishing to sink.
func NewStreamHandler(sink ports.LogSink, opts ...HandlerOption) *StreamHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &StreamHandler{sink: sink, opts: cfg}
}

// Enabled reports whether either the stream or the forwarded handler
// wants records at level.
func (h *StreamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.opts.level {
		return true
	}
	return h.opts.next != nil && h.opts.next.Enabled(ctx, level)
}

// Handle publishes record and forwards it.
func (h *StreamHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.opts.level {
		h.sink.Publish(h.entry(record))
	}
	if h.opts.next != nil && h.opts.next.Enabled(ctx, record.Level) {
		return h.opts.next.Handle(ctx, record)
	}
	return nil
}

func (h *StreamHandler) entry(record slog.Record) entities.LogEntry {
	target := h.target
	attrs := slices.Clone(h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		if h.group == "" && a.Key == TargetKey && a.Value.Kind() == slog.KindString {
			target = a.Value.String()
			return true
		}
		attrs = toLogAttrs(h.group, a, attrs)
		return true
	})
	if h.opts.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		attrs = append(attrs, entities.LogAttr{
			Key:   slog.SourceKey,
			Type:  "string",
			Value: fmt.Sprintf("%s:%d", frame.File, frame.Line),
		})
	}
	if target == "" {
		target = h.opts.defaultTarget
	}
	return entities.LogEntry{
		Time:    record.Time,
		Level:   record.Level.String(),
		Target:  target,
		Message: record.Message,
		Attrs:   attrs,
	}
}

// WithAttrs returns a handler that adds attrs to every record. A string
// target attribute outside any group sets the entry's target.
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for _, a := range attrs {
		if h.group == "" && a.Key == TargetKey && a.Value.Kind() == slog.KindString {
			clone.target = a.Value.String()
			continue
		}
		clone.attrs = toLogAttrs(h.group, a, clone.attrs)
	}
	if h.opts.next != nil {
		clone.opts.next = h.opts.next.WithAttrs(attrs)
	}
	return clone
}

// WithGroup returns a handler that prefixes later attribute keys with
// name.
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	if h.opts.next != nil {
		clone.opts.next = h.opts.next.WithGroup(name)
	}
	return clone
}

func (h *StreamHandler) clone() *StreamHandler {
	c := *h
	c.attrs = slices.Clip(h.attrs)
	return &c
}
