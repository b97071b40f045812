// Package logger wires zerolog the way the gateway does: a console
// writer in development, a bare level switch, and a Timestamp() on
// every entry.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger for the given environment name
// ("development" or "production") and component label.
func New(env, component string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	lvl := zerolog.InfoLevel
	if env == "development" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log := zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	return log
}
