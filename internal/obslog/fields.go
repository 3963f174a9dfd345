package obslog

import (
	"context"
	"strconv"
)

// Field represents a log field that can be added to a log entry.
type Field interface {
	Apply(entry *LogEntry)
}

type fieldFunc func(*LogEntry)

func (f fieldFunc) Apply(entry *LogEntry) { f(entry) }

func RequestID(id string) Field {
	return fieldFunc(func(e *LogEntry) { e.RequestID = id })
}

func Component(component string) Field {
	return fieldFunc(func(e *LogEntry) { e.Component = component })
}

func EntityRef(kind string, id int64) Field {
	return fieldFunc(func(e *LogEntry) {
		e.EntityKind = kind
		e.EntityID = strconv.FormatInt(id, 10)
	})
}

func Channel(channel string) Field {
	return fieldFunc(func(e *LogEntry) { e.Channel = channel })
}

func TrackerContext(ctx string) Field {
	return fieldFunc(func(e *LogEntry) { e.TrackerContext = ctx })
}

func Duration(ms float64) Field {
	return fieldFunc(func(e *LogEntry) { e.Duration = ms })
}

func String(key, value string) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func Int(key string, value int) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func Int64(key string, value int64) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func Float64(key string, value float64) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func Bool(key string, value bool) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func Any(key string, value interface{}) Field {
	return fieldFunc(func(e *LogEntry) { setExtra(e, key, value) })
}

func setExtra(e *LogEntry, key string, value interface{}) {
	if e.Extra == nil {
		e.Extra = make(map[string]interface{})
	}
	e.Extra[key] = value
}

type contextKey string

const requestIDKey contextKey = "request_id"

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func FieldsFromContext(ctx context.Context) []Field {
	var fields []Field
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, RequestID(requestID))
	}
	return fields
}
