// Package logging configures structured event logs.
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing level-filtered events in the given format
// ("json" or "text").
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)

	switch format {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("invalid log format %q (must be 'json' or 'text')", format)
	}
	return logger, nil
}

// Component returns an entry tagged with the component and cluster name.
func Component(logger logrus.FieldLogger, component, clusterName string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"component": component, "cluster": clusterName})
}

// Event tags an entry with an event type and extra data.
func Event(entry logrus.FieldLogger, eventType string, data logrus.Fields) *logrus.Entry {
	e := entry.WithField("event_type", eventType)
	if len(data) > 0 {
		e = e.WithFields(data)
	}
	return e
}
