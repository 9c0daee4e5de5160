package log

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// toLogAttrs flattens attr into key/type/value pairs. Group members are
// prefixed with the group key.
func toLogAttrs(prefix string, attr slog.Attr, out []entities.LogAttr) []entities.LogAttr {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return out
	}
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if attr.Value.Kind() == slog.KindGroup {
		if attr.Key == "" {
			key = prefix
		}
		for _, member := range attr.Value.Group() {
			out = toLogAttrs(key, member, out)
		}
		return out
	}
	return append(out, toLogAttr(key, attr.Value))
}

// toLogAttr converts a resolved, non-group value.
func toLogAttr(key string, v slog.Value) entities.LogAttr {
	wire := entities.LogAttr{Key: key}

	switch v.Kind() {
	case slog.KindString:
		wire.Type = "string"
		wire.Value = v.String()
	case slog.KindInt64:
		wire.Type = "int64"
		wire.Value = fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		wire.Type = "uint64"
		wire.Value = fmt.Sprintf("%d", v.Uint64())
	case slog.KindBool:
		wire.Type = "bool"
		wire.Value = fmt.Sprintf("%t", v.Bool())
	case slog.KindFloat64:
		wire.Type = "float64"
		wire.Value = fmt.Sprintf("%g", v.Float64())
	case slog.KindTime:
		wire.Type = "time"
		wire.Value = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		wire.Type = "duration"
		wire.Value = v.Duration().String()
	default:
		val := v.Any()
		switch {
		case val == nil:
			wire.Type = "any"
			wire.Value = "<nil>"
		case isError(val):
			wire.Type = "error"
			wire.Value = val.(error).Error()
		default:
			if data, err := json.Marshal(val); err == nil {
				wire.Type = "json"
				wire.Value = string(data)
			} else {
				wire.Type = "any"
				wire.Value = fmt.Sprintf("%v", val)
			}
		}
	}
	return wire
}

func isError(v any) bool {
	_, ok := v.(error)
	return ok
}
