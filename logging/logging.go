// Package logging builds the logrus logger shared by the hub, relay and CLI.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logger from raw output, level and format names, as they come
// from flags or the environment.
func New(rawOutput, rawLevel, rawFormat string) (*logrus.Logger, error) {
	log := logrus.New()

	if err := ApplyOutput(log, rawOutput); err != nil {
		return nil, err
	}
	if err := ApplyLevel(log, rawLevel); err != nil {
		return nil, err
	}
	if err := ApplyFormat(log, rawFormat); err != nil {
		return nil, err
	}
	return log, nil
}

// ApplyLevel sets the log level.
func ApplyLevel(log *logrus.Logger, rawLevel string) error {
	level, err := logrus.ParseLevel(rawLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// ApplyOutput sets where log lines go.
func ApplyOutput(log *logrus.Logger, output string) error {
	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	case "discard":
		out = io.Discard
	default:
		return fmt.Errorf("unknown log output: %s", output)
	}
	log.SetOutput(out)
	return nil
}

// ApplyFormat sets the formatter.
func ApplyFormat(log *logrus.Logger, rawFormat string) error {
	switch rawFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
		return nil
	case "text", "default", "":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05",
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		})
		return nil
	default:
		return fmt.Errorf("unknown log format: %v", rawFormat)
	}
}

// Discard returns a logger that drops everything. Handy as a default.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
