package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds process configuration. Scheduling tunables live in the
// datastore settings table, not here.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Driver  string `validate:"required,oneof=postgres sqlite"`
		DSN     string `validate:"required"`
		Migrate bool
	}
	HTTP struct {
		// Addr is empty when the HTTP API is disabled.
		Addr string
	}
	Agent struct {
		// Schedule is a cron expression; empty disables the trigger.
		Schedule string
		Batch    int `validate:"gte=1"`
	}
	Telegram struct {
		Token  string `validate:"required_with=ChatID"`
		ChatID int64  `validate:"required_with=Token"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.DB.Driver = strings.ToLower(getenv("DB_DRIVER", "sqlite"))
	c.DB.DSN = getenv("DB_DSN", "data/cronagent.db")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Agent.Schedule = os.Getenv("AGENT_SCHEDULE")
	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/cronagent.log")

	var err error
	if c.DB.Migrate, err = getbool("DB_MIGRATE", true); err != nil {
		return Config{}, err
	}
	if c.Agent.Batch, err = getint("AGENT_BATCH", 1); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if c.Telegram.ChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, errors.New("TELEGRAM_CHAT_ID must be an integer")
		}
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TelegramEnabled reports whether failure notifications are configured.
func (c Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != 0
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(k + " must be a boolean")
	}
	return b, nil
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(k + " must be an integer")
	}
	return n, nil
}
