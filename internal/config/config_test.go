package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"ENV", "DB_DRIVER", "DB_DSN", "DB_MIGRATE", "HTTP_ADDR", "AGENT_SCHEDULE", "AGENT_BATCH",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "LOG_CONSOLE_LEVEL", "LOG_FILE_LEVEL", "LOG_FILE",
}

// clearEnv isolates a test from the process environment.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "sqlite", c.DB.Driver)
	assert.True(t, c.DB.Migrate)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 1, c.Agent.Batch)
	assert.Empty(t, c.Agent.Schedule)
	assert.False(t, c.TelegramEnabled())
	assert.Equal(t, "info", c.Log.ConsoleLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "dev")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://u:p@localhost/cron")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("AGENT_SCHEDULE", "@every 1m")
	t.Setenv("AGENT_BATCH", "4")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	t.Setenv("LOG_CONSOLE_LEVEL", "DEBUG")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", c.DB.Driver)
	assert.False(t, c.DB.Migrate)
	assert.Equal(t, 4, c.Agent.Batch)
	assert.Equal(t, int64(-100200), c.Telegram.ChatID)
	assert.True(t, c.TelegramEnabled())
	assert.Equal(t, "debug", c.Log.ConsoleLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"env", map[string]string{"ENV": "staging"}},
		{"batch", map[string]string{"AGENT_BATCH": "0"}},
		{"batch not int", map[string]string{"AGENT_BATCH": "many"}},
		{"migrate", map[string]string{"DB_MIGRATE": "sometimes"}},
		{"token without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "x"}},
		{"chat without token", map[string]string{"TELEGRAM_CHAT_ID": "5"}},
		{"chat not int", map[string]string{"TELEGRAM_BOT_TOKEN": "x", "TELEGRAM_CHAT_ID": "me"}},
		{"log level", map[string]string{"LOG_FILE_LEVEL": "trace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
