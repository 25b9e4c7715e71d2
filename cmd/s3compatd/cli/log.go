package cli

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the process-wide bootstrap logger. Per-request loggers are
// derived from the one handed to handler.Config, not this one.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()
