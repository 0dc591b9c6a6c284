// Package logger configures the zerolog console logger used by the
// powerctl command.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Init builds a console logger writing to out. Warnings and above are
// logged by default, info with verbose and everything with debug.
func Init(out io.Writer, debug, verbose, isService bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	level := WarnLevel
	if debug {
		level = DebugLevel
	} else if verbose {
		level = InfoLevel
	}

	return zerolog.New(output).Level(zerolog.Level(level)).With().Timestamp().Logger()
}

// IsService reports whether the process runs under a service manager,
// where the journal already stamps each line
func IsService() bool {
	if os.Getenv("INVOCATION_ID") != "" || os.Getenv("SERVICE_NAME") != "" {
		return true
	}
	return os.Getppid() == 1
}
