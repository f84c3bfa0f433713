package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)
	logger.SetColorize(false)

	logger.Info("hello %s", "world")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("expected prefix 'test:', got: %s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("expected message 'hello world', got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	logger.SetLevel(INFO)
	logger.Debug("debug message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG to be filtered, got: %s", buf.String())
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected INFO to pass, got: %s", buf.String())
	}

	buf.Reset()
	logger.SetLevel(ERROR)
	logger.Warn("warn message")
	if buf.Len() != 0 {
		t.Errorf("expected WARN to be filtered at ERROR level, got: %s", buf.String())
	}
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected ERROR to pass, got: %s", buf.String())
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("scan")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	logger.InfoFields("cycle overrun", Fields{"cycle": 42, "overrun_ms": 1.5})

	output := buf.String()
	if !strings.Contains(output, "cycle=42") {
		t.Errorf("expected cycle field, got: %s", output)
	}
	if !strings.Contains(output, "overrun_ms=1.5") {
		t.Errorf("expected overrun_ms field, got: %s", output)
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("hmi")
	logger.SetWriter(&buf)
	logger.SetFormat(FormatJSON)

	logger.InfoFields("client connected", Fields{"remote": "10.0.0.7"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v (%s)", err, buf.String())
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", entry["level"])
	}
	if entry["logger"] != "hmi" {
		t.Errorf("expected logger hmi, got %v", entry["logger"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok || fields["remote"] != "10.0.0.7" {
		t.Errorf("expected remote field, got %v", entry["fields"])
	}
}

func TestLoggerChild(t *testing.T) {
	var buf bytes.Buffer
	logger := New("plc")
	logger.SetWriter(&buf)
	logger.SetColorize(false)
	logger.SetLevel(DEBUG)

	child := logger.Child("axis_x")
	child.Debug("homed")

	if !strings.Contains(buf.String(), "plc.axis_x:") {
		t.Errorf("expected child prefix, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
