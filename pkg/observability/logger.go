// Package observability provides logging, metrics and health checks.
package observability

import (
	"github.com/sirupsen/logrus"
)

// NewLogger creates a configured logger. Format is "json" for production or
// anything else for human-readable text.
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
