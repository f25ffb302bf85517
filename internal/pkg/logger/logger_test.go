package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEmail(tt.in))
		})
	}
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "jo***@example.com", redactPIIValue("to_email", "john.doe@example.com"))
	assert.Equal(t, "abc-123", redactPIIValue("email_id", "abc-123"))
	assert.Equal(t, "sent to jo***@example.com", redactPIIValue("msg", "sent to john.doe@example.com"))
	assert.Equal(t, "", redactPIIValue("to_email", ""))
}

func TestLogWritesStructuredEntry(t *testing.T) {
	buf := captureOutput(t)

	Info("email opened", "email_id", "e1", "to_email", "john.doe@example.com", "partition", 3)

	entry := lastEntry(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "email opened", entry["message"])
	assert.Equal(t, "e1", entry["email_id"])
	assert.Equal(t, "jo***@example.com", entry["to_email"])
	assert.Equal(t, "3", entry["partition"])
	assert.Contains(t, entry, "time")
}

func TestLogErrorValues(t *testing.T) {
	buf := captureOutput(t)

	Error("publish failed", "error", errors.New("broker down"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "broker down", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("dropped")
	Debug("dropped")
	Warn("kept")

	assert.Equal(t, 1, strings.Count(strings.TrimSpace(buf.String()), "\n")+1)
	assert.Equal(t, "kept", lastEntry(t, buf)["message"])
}

func TestRedactionCanBeDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetRedactPII(false)

	Info("raw", "to_email", "john.doe@example.com")

	assert.Equal(t, "john.doe@example.com", lastEntry(t, buf)["to_email"])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DEBUG, "": INFO, "INFO": INFO, "warning": WARN, "error": ERROR} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
