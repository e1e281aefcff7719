// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options selects level and output format.
type Options struct {
	Level  string // logrus level name; defaults to info
	Format string // "json" or "text"
	Output io.Writer
}

// New returns a logger configured from opts. Unknown levels fall back to info.
func New(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Discard returns an entry that drops everything; for tests and optional loggers.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// OrDiscard returns entry, or a discarding entry when it is nil.
func OrDiscard(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return Discard()
	}
	return entry
}
