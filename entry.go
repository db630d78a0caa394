package logship

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the body of a log entry: either plain text or a structured
// value. Both forms resolve to a single JSON representation before the
// entry reaches the queue.
type Message struct {
	text       string
	value      any
	structured bool
}

// Text wraps a plain string message.
func Text(s string) Message {
	return Message{text: s}
}

// Object wraps a structured message value. The value must be JSON-marshalable.
func Object(v any) Message {
	return Message{value: v, structured: true}
}

// body returns the value serialized under the "message" key.
func (m Message) body() any {
	if m.structured {
		return m.value
	}

	return m.text
}

// Entry is one log record before serialization. The queue and the sender
// never see an Entry; they operate on the serialized payload bytes only.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   Message
	Project   string
	Table     string
	// Fields are shipper-wide static fields merged into the top level of
	// every record. They may override the built-in keys.
	Fields map[string]any
	// Extra holds per-call fields, nested under the "extra" key.
	Extra map[string]any
}

// Encode serializes the entry to a single JSON object on one line.
func (e Entry) Encode() ([]byte, error) {
	record := map[string]any{
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"level":     e.Level.String(),
		"level_num": int(e.Level),
		"message":   e.Message.body(),
		"project":   e.Project,
		"table":     e.Table,
	}
	for k, v := range e.Fields {
		record[k] = v
	}
	if len(e.Extra) > 0 {
		record["extra"] = e.Extra
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("logship: encode entry: %w", err)
	}

	return payload, nil
}
