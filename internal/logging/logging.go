// Package logging builds the slog logger used by the gaiji commands, with
// optional file rotation through lumberjack.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level      string `json:"level"`        // debug, info, warn, error
	Format     string `json:"format"`       // text or json
	File       string `json:"file"`         // empty = the command's stderr
	MaxSizeMB  int    `json:"max_size_mb"`  // rotate after this size
	MaxBackups int    `json:"max_backups"`  // rotated files kept
	MaxAgeDays int    `json:"max_age_days"` // rotated files age limit
	Compress   bool   `json:"compress"`     // gzip rotated files
}

// DefaultConfig returns the defaults used when a job config omits logging.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// Validate reports unsupported values.
func (c Config) Validate() error {
	if _, ok := levels[strings.ToLower(c.Level)]; !ok && c.Level != "" {
		return fmt.Errorf("unknown level %q (want debug|info|warn|error)", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown format %q (want text|json)", c.Format)
	}
	return nil
}

// New returns a logger writing to stderr, or to a rotated file when
// cfg.File is set. The cleanup function closes the file and is never nil.
func New(cfg Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	writer := stderr
	cleanup := func() error { return nil }

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, cleanup, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		writer = lj
		cleanup = lj.Close
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(writer, opts)
	} else {
		h = slog.NewTextHandler(writer, opts)
	}
	return slog.New(h), cleanup, nil
}

// Setup is New plus slog.SetDefault.
func Setup(cfg Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	l, cleanup, err := New(cfg, stderr)
	if err != nil {
		return nil, cleanup, err
	}
	slog.SetDefault(l)
	return l, cleanup, nil
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to a slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	if l, ok := levels[strings.ToLower(s)]; ok {
		return l
	}
	return slog.LevelInfo
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
