package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type Log struct {
	*logrus.Entry
}

// NewLogger builds the process logger for the given level ("debug", "info",
// "warning", "error").
func NewLogger(level string) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    false,
		ForceColors:      true,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", level, err)
	}
	log.SetLevel(lvl)
	// Disable concurrency mutex as we use Stdout.
	log.SetNoLock()

	return &Log{Entry: log.WithFields(nil)}, nil
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger is the logging interface the pipeline services depend on.
type Logger interface {
	// GetLevel returns the currently configured logging level.
	GetLevel() string
	With(fields Fields) *Log
}
