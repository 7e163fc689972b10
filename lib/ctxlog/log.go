// Package ctxlog carries a *logrus.Entry through a context.Context so
// request-scoped fields (user id, instance id, request id) follow a
// call down into every package without being threaded through every
// function signature.
package ctxlog

import (
	"context"

	"github.com/sirupsen/logrus"
)

var (
	loggerCtxKey = new(int)
	rootLogger   = logrus.New()
)

const rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// Context returns a child context such that FromContext(child)
// returns the given logger.
func Context(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger attached to ctx, or the root logger
// with no fields if none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return logger
		}
	}
	return rootLogger.WithFields(nil)
}

// SetLevel sets the current logging level. See logrus for level names.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	rootLogger.Level = lvl
	return nil
}

// SetFormat sets the current logging format to "json" or "text".
func SetFormat(format string) error {
	switch format {
	case "text":
		rootLogger.Formatter = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: rfc3339NanoFixed,
		}
	case "json", "":
		rootLogger.Formatter = &logrus.JSONFormatter{
			TimestampFormat: rfc3339NanoFixed,
		}
	default:
		return errUnknownFormat(format)
	}
	return nil
}

type errUnknownFormat string

func (e errUnknownFormat) Error() string { return "unknown log format: " + string(e) }
