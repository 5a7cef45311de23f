// Package config wires viper: env bindings, optional config file, defaults,
// and the logger built from the resolved settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CONTEXT_BOT"

// Init loads .env when present, binds CONTEXT_BOT_* environment variables,
// registers defaults, and reads cfgFile if one was given. Settings resolve
// flag > env > config file > default.
func Init(cfgFile string) error {
	// Missing .env is fine; explicit config files are not.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		return nil
	}

	viper.SetConfigName("contextbot")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/contextbot")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("slack.base_url", "https://slack.com/api")
	viper.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4.1-mini")
	viper.SetDefault("llm.request_timeout", "60s")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("events.workers", 4)
	viper.SetDefault("events.queue_size", 64)
	viper.SetDefault("events.dedup_ttl", "10m")
	viper.SetDefault("context.search_count", 5)
	viper.SetDefault("context.step_timeout", "10s")
	viper.SetDefault("context.match_concurrency", 1)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// Logger builds the process logger from log.level and log.format.
func Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(viper.GetString("log.format")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
