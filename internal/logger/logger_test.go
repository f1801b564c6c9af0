package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_AuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	Init("info", path)
	Info("message_created", "id", "01HX")
	Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"message_created"`)
	assert.Contains(t, string(b), `"id":"01HX"`)
}

func TestMaskedValue(t *testing.T) {
	assert.Equal(t, "", maskedValue(""))
	assert.Equal(t, "<redacted>", maskedValue("ab"))
	assert.Equal(t, "g*****f", maskedValue("gc_device=abcdef"))
}
