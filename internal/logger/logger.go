// Package logger holds the process-wide logrus logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/config"
)

// Log is the global logger. Components receive it as a logrus.FieldLogger.
var Log = logrus.New()

// Init sets the level from LOG_LEVEL and picks JSON output for production
// and staging, text otherwise.
func Init(cfg config.Config) {
	Configure(Log, os.Stdout, cfg.LogLevel, cfg.Environment)
	Log.Debugf("logger: level=%s environment=%s", Log.GetLevel(), cfg.Environment)
}

// Configure applies level and format to l.
func Configure(l *logrus.Logger, out io.Writer, level, environment string) {
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.Warnf("logger: invalid level %q, using info", level)
	} else {
		l.SetLevel(lvl)
	}

	switch strings.ToLower(environment) {
	case "production", "staging":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
