package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global logger based on the environment.
// Production emits JSON for machine parsing (Datadog, Splunk, etc.);
// everything else emits text at debug level for human readability.
// The returned logger is also installed as the slog default.
func Setup(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelFromEnv(env),
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Component returns a child logger tagged with the owning component,
// so every service logs under a stable "component" key.
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With(slog.String("component", name))
}

func levelFromEnv(env string) slog.Level {
	if env == "production" {
		if v := strings.ToLower(os.Getenv("LOG_LEVEL")); v == "debug" {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
