// Package logger provides the configured zerolog logger shared by all
// components.
package logger

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

const serviceName = "kqchecker"

// New returns a logger tagged with the component name. Log level comes from
// the level argument ("debug", "info", ...); unknown values fall back to
// info. When stderr is a terminal the output is pretty-printed, otherwise
// structured JSON is emitted.
func New(component, level string) zerolog.Logger {
	configureStackMarshaling()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stderr)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return out.Level(lvl).With().
		Str("service", serviceName).
		Str("component", component).
		Timestamp().
		Logger()
}

// configureStackMarshaling wires zerolog to github.com/pkg/errors so that
// .Stack() on an error event renders a stack even for std errors.
func configureStackMarshaling() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
}
