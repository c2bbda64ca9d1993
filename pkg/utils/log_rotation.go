package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig controls log file rotation.
type RotationConfig struct {
	Filename string `yaml:"-"`

	// MaxSize is the size in bytes at which the file is rotated (0 = never).
	MaxSize int64 `yaml:"max_size"`

	// MaxBackups is the number of rotated files kept (0 = keep all).
	MaxBackups int `yaml:"max_backups"`

	Compress bool `yaml:"compress"`
}

// RotatingWriter is an io.WriteCloser that rotates its file by size.
type RotatingWriter struct {
	mu sync.Mutex

	config *RotationConfig
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewRotatingWriter opens (or creates) the configured file for appending.
func NewRotatingWriter(config *RotationConfig) (*RotatingWriter, error) {
	if config == nil || config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	w := &RotatingWriter{config: config, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.config.MaxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.config.MaxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Rotate forces an immediate rotation.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.config.Filename), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(w.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	backup := w.backupName(w.now().UTC())
	if err := os.Rename(w.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return err
	}

	if w.config.Compress {
		if err := gzipFile(backup); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress %s: %v\n", backup, err)
		}
	}

	w.pruneBackups()
	return w.open()
}

func (w *RotatingWriter) backupName(ts time.Time) string {
	ext := filepath.Ext(w.config.Filename)
	base := strings.TrimSuffix(w.config.Filename, ext)
	return fmt.Sprintf("%s-%s%s", base, ts.Format("20060102T150405.000"), ext)
}

func (w *RotatingWriter) pruneBackups() {
	if w.config.MaxBackups <= 0 {
		return
	}

	dir := filepath.Dir(w.config.Filename)
	name := filepath.Base(w.config.Filename)
	prefix := strings.TrimSuffix(name, filepath.Ext(name)) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, entry := range entries {
		if entry.Name() != name && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, entry.Name())
		}
	}

	// Timestamped names sort chronologically.
	sort.Strings(backups)
	for len(backups) > w.config.MaxBackups {
		_ = os.Remove(filepath.Join(dir, backups[0]))
		backups = backups[1:]
	}
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
