package main

import (
	"os"

	"github.com/phuslu/log"
)

// Logger is the printf-style logging seam shared by every component.
type Logger interface {
	Log(format string, args ...any)
}

// NewRootLogger builds the process logger: console always, file when configured.
func NewRootLogger(level, file string) *log.Logger {
	var writer log.Writer = &log.ConsoleWriter{
		Writer:         os.Stdout,
		ColorOutput:    true,
		EndWithMessage: true,
	}
	if file != "" {
		writer = &log.MultiEntryWriter{
			writer,
			&log.FileWriter{Filename: file, EnsureFolder: true},
		}
	}
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

type moduleLogger struct {
	logger    *log.Logger
	component string
}

func newModuleLogger(logger *log.Logger, component string) *moduleLogger {
	return &moduleLogger{logger: logger, component: component}
}

func (m *moduleLogger) Log(format string, args ...any) {
	m.logger.Info().Str("component", m.component).Msgf(format, args...)
}

// clientLogger prefixes every line with the owning client id.
type clientLogger struct {
	id   string
	base Logger
}

func (c *clientLogger) Log(format string, args ...any) {
	c.base.Log("[%s] "+format, append([]any{c.id}, args...)...)
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}

// redact keeps enough of a secret to correlate log lines without leaking it.
func redact(secret string) string {
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:6] + "***"
}
