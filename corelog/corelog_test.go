package corelog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_JSONFormatEmitsParsableLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, JSONFormat: true})
	l.Info("breaker tripped", "endpoint", "redis-0")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded["msg"] != "breaker tripped" {
		t.Fatalf("unexpected msg field: %v", decoded["msg"])
	}
	if decoded["endpoint"] != "redis-0" {
		t.Fatalf("expected endpoint field to carry through, got %v", decoded["endpoint"])
	}
}

func TestLogger_WithCarriesFieldsToChildren(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, JSONFormat: true})
	child := l.With("component", "remote")
	child.Warn("retrying command")

	if !strings.Contains(buf.String(), `"component":"remote"`) {
		t.Fatalf("expected derived logger to carry component field, got %q", buf.String())
	}
}

func TestNop_DiscardsOutput(t *testing.T) {
	l := Nop()
	l.Error("should not appear anywhere observable")
}
