// Package log builds the process logger: JSON lines in production, a
// human-readable console stream elsewhere.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	production = "production"
	service    = "academy"
)

// Options selects the sink and verbosity. Empty Level and Format fall back
// to the environment's defaults: info and json in production, debug and
// console otherwise.
type Options struct {
	Environment string
	Level       string
	Format      string
	Out         io.Writer
}

// New returns a logger tagged with the service name and environment.
func New(opts Options) (zerolog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	isProd := opts.Environment == production

	level, err := parseLevel(opts.Level, isProd)
	if err != nil {
		return zerolog.Nop(), err
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatConsole
		if isProd {
			format = FormatJSON
		}
	}
	switch format {
	case FormatJSON:
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: isProd}
	default:
		return zerolog.Nop(), fmt.Errorf("log: unknown format %q", opts.Format)
	}

	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", service).
		Str("env", opts.Environment).
		Logger(), nil
}

func parseLevel(raw string, isProd bool) (zerolog.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if isProd {
			return zerolog.InfoLevel, nil
		}
		return zerolog.DebugLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log: %w", err)
	}
	return level, nil
}
