package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestLogLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, INFO, FormatText)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "[INFO] info message") {
		t.Errorf("Info message not found in %q", buf.String())
	}

	buf.Reset()
	logger.SetLevel(ERROR)
	logger.Warn("warn message")
	if buf.Len() > 0 {
		t.Error("Warn message was logged when level is ERROR")
	}
	logger.Errorf("failed %d", 3)
	if !strings.Contains(buf.String(), "failed 3") {
		t.Errorf("Errorf output missing: %q", buf.String())
	}
}

func TestTextFieldsAreSorted(t *testing.T) {
	logger, buf := newBufferLogger(t, DEBUG, FormatText)

	logger.WithComponent("storage").Info("seam finalized", map[string]interface{}{
		"seam":   3,
		"active": true,
	})

	out := buf.String()
	if !strings.Contains(out, "{active=true, component=storage, seam=3}") {
		t.Errorf("unexpected field rendering: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, DEBUG, FormatJSON)

	logger.WithFields(map[string]interface{}{"product": "abc"}).Warn("shutdown scheduled",
		map[string]interface{}{"usage": 0.95})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "WARN" || entry.Message != "shutdown scheduled" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["product"] != "abc" || entry.Fields["usage"] != 0.95 {
		t.Errorf("unexpected fields %v", entry.Fields)
	}
}

func TestChildLoggerDoesNotLeakFields(t *testing.T) {
	parent, buf := newBufferLogger(t, DEBUG, FormatText)
	_ = parent.WithField("child", 1)

	parent.Info("parent")
	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestComponentLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, INFO, FormatText)
	logger.SetComponentLevel("evictor", DEBUG)

	logger.WithComponent("evictor").Debug("pass started")
	logger.WithComponent("storage").Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "pass started") {
		t.Error("component level DEBUG was not honored")
	}
	if strings.Contains(out, "hidden") {
		t.Error("global level INFO was not honored")
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultstore.log")
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO, Filename: path})
	if err != nil {
		t.Fatalf("NewStructuredLogger: %v", err)
	}
	logger.Info("to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writes after close are discarded rather than failing.
	logger.Info("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "to file") || strings.Contains(string(data), "after close") {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("nothing")
	if l.GetLevel() <= ERROR {
		t.Error("nop logger must be above ERROR")
	}
}
