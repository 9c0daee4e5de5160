package guest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-dev/sentinel/wireformat"
)

// LogHandler implements slog.Handler by forwarding records to the host's
// log_message tool. A "target" attr outside any group becomes the
// record's target.
type LogHandler struct {
	client *Client
	attrs  map[string]any
	target string
	group  string
	opts   handlerConfig
}

// HandlerOption configures a LogHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	level slog.Level
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{level: slog.LevelInfo}
}

// WithLevel sets the minimum level forwarded to the host.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// NewLogHandler creates a handler that logs through client.
func NewLogHandler(client *Client, opts ...HandlerOption) *LogHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LogHandler{client: client, opts: cfg, attrs: map[string]any{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level
}

// Handle sends the record to the host. Transport failures are returned
// so slog callers can surface them.
func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	msg := wireformat.LogMessageRequest{
		Level:   record.Level.String(),
		Message: record.Message,
		Target:  h.target,
		Attrs:   make(map[string]any, len(h.attrs)+record.NumAttrs()),
	}
	for k, v := range h.attrs {
		msg.Attrs[k] = v
	}
	record.Attrs(func(a slog.Attr) bool {
		if h.group == "" && a.Key == "target" {
			msg.Target = a.Value.String()
			return true
		}
		collect(h.group, a, msg.Attrs)
		return true
	})
	return h.client.Log(ctx, msg)
}

// WithAttrs returns a handler carrying attrs on every record.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		if h.group == "" && a.Key == "target" {
			next.target = a.Value.String()
			continue
		}
		collect(h.group, a, next.attrs)
	}
	return next
}

// WithGroup returns a handler that prefixes later attr keys with name.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	if next.group == "" {
		next.group = name
	} else {
		next.group = next.group + "." + name
	}
	return next
}

func (h *LogHandler) clone() *LogHandler {
	next := *h
	next.attrs = make(map[string]any, len(h.attrs))
	for k, v := range h.attrs {
		next.attrs[k] = v
	}
	return &next
}

func collect(prefix string, a slog.Attr, out map[string]any) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if a.Key == "" {
			key = prefix
		}
		for _, ga := range group {
			collect(key, ga, out)
		}
		return
	}
	out[key] = wireValue(a.Value)
}

func wireValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if v.Any() == nil {
			return nil
		}
		return fmt.Sprint(v.Any())
	}
}
