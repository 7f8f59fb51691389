package main

import (
	"os"

	"github.com/rs/zerolog"
)

// newLogger builds a console-writer zerolog.Logger at the requested
// level, mirroring the teacher's NewLogger(level, prefix) factory
// (logger.go) but backed by a real structured-logging library per
// SPEC_FULL.md §14.
func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}
