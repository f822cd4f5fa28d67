package logging

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Factory hands out component-scoped loggers sharing one base logger.
type Factory struct {
	baseLogger *log.Logger
}

func NewFactory(baseLogger *log.Logger) *Factory {
	return &Factory{baseLogger: baseLogger}
}

// ForComponent returns a logger tagged with the component id.
func (lf *Factory) ForComponent(id string) *log.Logger {
	return lf.baseLogger.With("component", id)
}

// NewLogger builds the process-wide base logger.
func NewLogger(level string) *log.Logger {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           parsed,
	})
}
