package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "CHRONOSEND_"

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none) into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides secrets and deployment-specific fields from CHRONOSEND_* variables.
func ApplyEnv(cfg *Config) {
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Server.Addr = getEnv("ADDR", cfg.Server.Addr)
	cfg.Scheduler.Timezone = getEnv("TIMEZONE", cfg.Scheduler.Timezone)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = getEnv("STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.DSN = getEnv("STORAGE_DSN", cfg.Storage.DSN)

	cfg.Cache.Addr = getEnv("REDIS_ADDR", cfg.Cache.Addr)
	cfg.Cache.Password = getEnv("REDIS_PASSWORD", cfg.Cache.Password)
	cfg.Cache.DB = getEnvInt("REDIS_DB", cfg.Cache.DB)

	cfg.Transport.BaseURL = getEnv("TRANSPORT_URL", cfg.Transport.BaseURL)
	cfg.Transport.Token = getEnv("TRANSPORT_TOKEN", cfg.Transport.Token)

	cfg.Notifier.DefaultAddress = getEnv("NOTIFY_DEFAULT_ADDRESS", cfg.Notifier.DefaultAddress)
	if tok := getEnv("TELEGRAM_TOKEN", ""); tok != "" {
		if cfg.Notifier.Telegram == nil {
			cfg.Notifier.Telegram = &TelegramSinkConfig{}
		}
		cfg.Notifier.Telegram.Token = tok
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
