package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogOptions configures the process logger.
type LogOptions struct {
	Level  string
	Format string // "text" or "json"
	File   string // empty means stderr

	// Rotation applies only when File is set.
	Rotation *RotationConfig
}

// NewLogger builds a slog logger from options. The returned closer releases
// the log file, if any, and is never nil.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	level, err := ParseLogLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		output io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if opts.File != "" {
		rotation := opts.Rotation
		if rotation == nil {
			rotation = &RotationConfig{}
		}
		cfg := *rotation
		cfg.Filename = opts.File
		writer, err := NewRotatingWriter(&cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = writer
		closer = writer
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(output, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("invalid log format: %s", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseBytes parses a human-readable byte string such as "64MB" or "512k".
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	s = strings.TrimSuffix(s, "IB")
	s = strings.TrimSuffix(s, "B")

	multiplier := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K':
			multiplier = 1 << 10
		case 'M':
			multiplier = 1 << 20
		case 'G':
			multiplier = 1 << 30
		case 'T':
			multiplier = 1 << 40
		}
		if multiplier > 1 {
			s = strings.TrimSpace(s[:n-1])
		}
	}

	num, err := strconv.ParseFloat(s, 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	return int64(num * float64(multiplier)), nil
}
