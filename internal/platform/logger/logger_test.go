package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestNew_FileLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "agent.log")
	log, closeLog := New(Options{Env: "prod", ConsoleLevel: "warn", FileLevel: "debug", File: logFile, App: "cronagent"})

	log.Debug("debug only in file")
	log.Info("info only in file")
	log.Warn("warn in both")
	require.NoError(t, closeLog())

	content := readFile(t, logFile)
	assert.Contains(t, content, "debug only in file")
	assert.Contains(t, content, "warn in both")
	assert.Contains(t, content, `"level":"DEBUG"`)
	assert.Contains(t, content, `"app":"cronagent"`)
}

func TestNew_DefaultFileLevelIsDebug(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "default.log")
	log, closeLog := New(Options{File: logFile})
	log.Debug("visible")
	require.NoError(t, closeLog())
	assert.Contains(t, readFile(t, logFile), "visible")
}

func TestNew_ConsoleOnly(t *testing.T) {
	log, closeLog := New(Options{Env: "dev", App: "cronagent"})
	require.NotNil(t, log)
	log.Info("console only message")
	assert.NoError(t, closeLog())
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromString(tt.in, slog.LevelWarn), tt.in)
	}
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), SensitiveKeys))

	log.With("dsn", "host=db password=hunter2").Info("connect",
		slog.String("token", "123:abc"),
		slog.String("url", "postgres://cron:hunter2@db:5432/cron"),
		slog.Group("db", slog.String("password", "hunter2")),
		slog.String("user", "john"),
	)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "123:abc")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "postgres://cron:xxxxx@db:5432/cron")
	assert.Contains(t, out, "john")
}

func TestMaskURLPassword(t *testing.T) {
	_, ok := maskURLPassword("https://example.test/path")
	assert.False(t, ok)
	_, ok = maskURLPassword("mailto:a@b.test")
	assert.False(t, ok)
	s, ok := maskURLPassword("postgres://u:p@h/d")
	assert.True(t, ok)
	assert.Equal(t, "postgres://u:xxxxx@h/d", s)
}

func TestMultiHandler(t *testing.T) {
	var info, warn bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	ctx := context.Background()
	assert.True(t, multi.Enabled(ctx, slog.LevelInfo))
	assert.False(t, multi.Enabled(ctx, slog.LevelDebug))

	log := slog.New(multi.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g"))
	log.Info("low")
	log.Warn("high")

	assert.Contains(t, info.String(), "low")
	assert.Contains(t, info.String(), "k=v")
	assert.NotContains(t, warn.String(), "low")
	assert.Contains(t, warn.String(), "high")

	require.NoError(t, multi.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelError, "direct", 0)))
	assert.Contains(t, warn.String(), "direct")
}
