package common

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields represents structured logging fields.
type Fields map[string]any

// SetupLogger configures the package-global logrus logger: level parsed
// from level (trace, debug, info, warn, error), formatter selected by
// format (console uses logrus's text formatter, json its JSON formatter).
func SetupLogger(level, format string) error {
	switch level {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		return fmt.Errorf("%w: invalid log level %q", ErrConfig, level)
	}

	switch format {
	case "console":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrConfig, format)
	}

	logrus.SetOutput(os.Stderr)
	return nil
}

// LogError logs an error with additional context.
func LogError(err error, msg string, fields Fields) {
	entry := logrus.WithField("error", err.Error())
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Error(msg)
}

// LogInfo logs an info message with fields.
func LogInfo(msg string, fields Fields) {
	entry := logrus.WithFields(toLogrusFields(fields))
	entry.Info(msg)
}

// LogDebug logs a debug message with fields.
func LogDebug(msg string, fields Fields) {
	entry := logrus.WithFields(toLogrusFields(fields))
	entry.Debug(msg)
}

func toLogrusFields(fields Fields) logrus.Fields {
	f := make(logrus.Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return f
}
