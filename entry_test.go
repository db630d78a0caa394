package logship

import (
	"encoding/json"
	"testing"
	"time"
)

func decodeRecord(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}

	return record
}

func TestEntryEncodeText(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	entry := Entry{
		Timestamp: ts,
		Level:     LevelInfo,
		Message:   Text("hello"),
		Project:   "billing",
		Table:     "app_logs",
	}

	payload, err := entry.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	record := decodeRecord(t, payload)
	if record["message"] != "hello" {
		t.Fatalf("unexpected message: %v", record["message"])
	}
	if record["level"] != "INFO" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if record["level_num"] != float64(20) {
		t.Fatalf("unexpected level_num: %v", record["level_num"])
	}
	if record["project"] != "billing" || record["table"] != "app_logs" {
		t.Fatalf("unexpected identity fields: %v / %v", record["project"], record["table"])
	}
	if record["timestamp"] != "2026-03-14T09:26:53Z" {
		t.Fatalf("unexpected timestamp: %v", record["timestamp"])
	}
	if _, ok := record["extra"]; ok {
		t.Fatalf("expected no extra key")
	}
}

func TestEntryEncodeObjectMessage(t *testing.T) {
	entry := Entry{
		Level:   LevelError,
		Message: Object(map[string]any{"code": 42, "reason": "boom"}),
		Project: "billing",
		Table:   "app_logs",
	}

	payload, err := entry.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	record := decodeRecord(t, payload)
	body, ok := record["message"].(map[string]any)
	if !ok {
		t.Fatalf("expected structured message, got %T", record["message"])
	}
	if body["code"] != float64(42) || body["reason"] != "boom" {
		t.Fatalf("unexpected message body: %v", body)
	}
}

func TestEntryEncodeFieldsAndExtra(t *testing.T) {
	entry := Entry{
		Level:   LevelWarning,
		Message: Text("disk almost full"),
		Project: "billing",
		Table:   "app_logs",
		Fields:  map[string]any{"host": "node-3", "project": "override"},
		Extra:   map[string]any{"disk": "/dev/sda1", "used_pct": 97},
	}

	payload, err := entry.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	record := decodeRecord(t, payload)
	if record["host"] != "node-3" {
		t.Fatalf("expected static field at top level, got %v", record["host"])
	}
	// Static fields win over built-in keys, matching the wire format of
	// the exporters this sink already ingests.
	if record["project"] != "override" {
		t.Fatalf("expected static field to override, got %v", record["project"])
	}
	extra, ok := record["extra"].(map[string]any)
	if !ok {
		t.Fatalf("expected extra object, got %T", record["extra"])
	}
	if extra["disk"] != "/dev/sda1" || extra["used_pct"] != float64(97) {
		t.Fatalf("unexpected extra: %v", extra)
	}
}

func TestEntryEncodeUnencodable(t *testing.T) {
	entry := Entry{
		Level:   LevelInfo,
		Message: Object(make(chan int)),
		Project: "billing",
		Table:   "app_logs",
	}

	if _, err := entry.Encode(); err == nil {
		t.Fatalf("expected encode error for unmarshalable message")
	}
}
