package logship

import (
	"context"
	"log/slog"
)

// Handler is a log/slog handler that forwards records to a Shipper, so
// applications already instrumented with slog can ship their logs without
// touching call sites. Attribute groups become nested objects under the
// record's "extra" key.
type Handler struct {
	shipper *Shipper
	level   slog.Leveler
	fields  map[string]any
	groups  []string
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler creates a slog handler backed by the given shipper. Records
// below level are discarded; a nil level defaults to slog.LevelInfo.
func NewHandler(shipper *Shipper, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}

	return &Handler{shipper: shipper, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	extra := cloneFields(h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		setAttr(extra, h.groups, attr)

		return true
	})

	h.shipper.Log(levelFromSlog(record.Level), Text(record.Message), extra)

	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	fields := cloneFields(h.fields)
	for _, attr := range attrs {
		setAttr(fields, h.groups, attr)
	}

	return &Handler{shipper: h.shipper, level: h.level, fields: fields, groups: h.groups}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &Handler{shipper: h.shipper, level: h.level, fields: h.fields, groups: groups}
}

// levelFromSlog maps slog levels onto the 10..50 scale. Levels above
// slog.LevelError map to critical.
func levelFromSlog(level slog.Level) Level {
	switch {
	case level < slog.LevelInfo:
		return LevelDebug
	case level < slog.LevelWarn:
		return LevelInfo
	case level < slog.LevelError:
		return LevelWarning
	case level == slog.LevelError:
		return LevelError
	default:
		return LevelCritical
	}
}

// setAttr places attr into fields under the given group path, creating
// nested maps as needed. Empty attrs are dropped per slog convention.
func setAttr(fields map[string]any, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	target := fields
	for _, group := range groups {
		nested, ok := target[group].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			target[group] = nested
		}
		target = nested
	}

	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		if len(members) == 0 {
			return
		}
		if attr.Key == "" {
			for _, member := range members {
				setAttr(target, nil, member)
			}

			return
		}
		nested := make(map[string]any)
		for _, member := range members {
			setAttr(nested, nil, member)
		}
		target[attr.Key] = nested

		return
	}

	if attr.Key == "" {
		return
	}
	target[attr.Key] = attr.Value.Any()
}

func cloneFields(fields map[string]any) map[string]any {
	cloned := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		if nested, ok := value.(map[string]any); ok {
			value = cloneFields(nested)
		}
		cloned[key] = value
	}

	return cloned
}
