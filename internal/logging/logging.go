// Package logging builds the structured logger shared by both binaries.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger at the given level, writing to logPath if
// non-empty or to stdout otherwise. An unrecognized level falls back to
// info rather than failing the whole process over a typo'd config value.
func New(logPath, level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if logPath == "" {
		log.SetOutput(os.Stdout)
		return log, nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", logPath)
	}
	log.SetOutput(f)
	return log, nil
}
