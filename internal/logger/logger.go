package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. The dev environment gets human readable
// console output, everything else emits JSON lines.
func New(env, service string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger()
}
