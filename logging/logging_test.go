package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewDefaultsToInfoAndJSONWhenNotATTY(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	log.Info("hello")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON output for a non-TTY writer, got %q: %v", buf.String(), err)
	}
	if decoded["msg"] != "hello" {
		t.Fatalf("unexpected message: %v", decoded["msg"])
	}
}

func TestNewParsesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf, Level: "warn"})
	log.Info("suppressed")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info line should be suppressed at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line should appear: %q", out)
	}
}

func TestComponentScopesField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	Component(log, "loop").Info("tick")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["component"] != "loop" {
		t.Fatalf("expected component field, got %v", decoded["component"])
	}
}
