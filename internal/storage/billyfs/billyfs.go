// Package billyfs stores persistent cache records as files on a
// go-billy filesystem. osfs gives records that survive restarts; memfs
// gives the same code path in tests.
package billyfs

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/objectfs/tiercache/pkg/errors"
)

const indexFile = "index.json"

// Config represents filesystem medium configuration
type Config struct {
	Directory   string `yaml:"directory"`
	Compression bool   `yaml:"compression"`
	// MaxBytes bounds the on-disk size of all records (0 = unlimited).
	MaxBytes int64 `yaml:"max_bytes"`
}

// record is one index entry.
type record struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	Compressed bool      `json:"compressed"`
	ModTime    time.Time `json:"mod_time"`
}

// Medium implements types.Medium over a billy.Filesystem. The index is
// kept in memory and written back by Flush and Close, so records written
// after the last flush are not visible to a process that reopens the
// directory after a crash.
type Medium struct {
	mu          sync.Mutex
	fs          billy.Filesystem
	compression bool
	maxBytes    int64
	index       map[string]*record
	used        int64
	dirty       bool
}

// New opens (or creates) a medium rooted at config.Directory on the
// local filesystem.
func New(config Config) (*Medium, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("billyfs: directory is required")
	}
	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return NewWithFilesystem(osfs.New(config.Directory), config)
}

// NewMemory creates a medium on an in-memory filesystem.
func NewMemory(config Config) *Medium {
	m, _ := NewWithFilesystem(memfs.New(), config)
	return m
}

// NewWithFilesystem creates a medium on an existing filesystem,
// loading any index left by a previous process.
func NewWithFilesystem(fs billy.Filesystem, config Config) (*Medium, error) {
	m := &Medium{
		fs:          fs,
		compression: config.Compression,
		maxBytes:    config.MaxBytes,
		index:       make(map[string]*record),
	}
	if err := m.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return m, nil
}

// Filesystem returns the underlying billy filesystem.
func (m *Medium) Filesystem() billy.Filesystem {
	return m.fs
}

// Path returns the file, relative to Filesystem, that holds the record
// for key.
func (m *Medium) Path(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.index[key]
	if !ok {
		return "", false
	}
	return rec.File, true
}

// Get reads and verifies the record stored under key.
func (m *Medium) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index[key]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}

	raw, err := m.readFile(rec)
	if err != nil {
		if os.IsNotExist(err) {
			m.dropLocked(key)
			return nil, errors.ErrRecordNotFound
		}
		return nil, errors.NewError(errors.ErrCodePersistenceRead, "failed to read record").
			WithComponent("billyfs-medium").
			WithContext("key", key).
			WithCause(err)
	}

	data, err := decode(rec, raw)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeChecksumMismatch, "corrupt compressed record").
			WithComponent("billyfs-medium").
			WithContext("key", key).
			WithCause(err)
	}

	if checksum(data) != rec.Checksum {
		return nil, errors.NewError(errors.ErrCodeChecksumMismatch, "checksum mismatch for stored record").
			WithComponent("billyfs-medium").
			WithContext("key", key)
	}
	return data, nil
}

// Put writes the record to a temporary file and renames it into place.
func (m *Medium) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &record{
		File:       fileName(key),
		Checksum:   checksum(data),
		Compressed: m.compression,
		ModTime:    time.Now(),
	}

	size, err := m.writeFile(rec, data)
	if err != nil {
		return errors.NewError(errors.ErrCodePersistenceWrite, "failed to write record").
			WithComponent("billyfs-medium").
			WithContext("key", key).
			WithCause(err)
	}
	rec.Size = size

	var previous int64
	if old, ok := m.index[key]; ok {
		previous = old.Size
	}
	if m.maxBytes > 0 && m.used-previous+size > m.maxBytes {
		_ = m.fs.Remove(rec.File + ".tmp")
		return errors.NewError(errors.ErrCodeQuotaExceeded,
			fmt.Sprintf("record of %d bytes exceeds quota of %d bytes", size, m.maxBytes)).
			WithComponent("billyfs-medium").
			WithContext("key", key)
	}

	if err := m.fs.Rename(rec.File+".tmp", rec.File); err != nil {
		_ = m.fs.Remove(rec.File + ".tmp")
		return errors.NewError(errors.ErrCodePersistenceWrite, "failed to commit record").
			WithComponent("billyfs-medium").
			WithContext("key", key).
			WithCause(err)
	}

	m.index[key] = rec
	m.used += size - previous
	m.dirty = true
	return nil
}

// Delete removes the record file and its index entry.
func (m *Medium) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[key]; !ok {
		return nil
	}
	m.dropLocked(key)
	return nil
}

// List returns the indexed keys beginning with prefix.
func (m *Medium) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.index))
	for key := range m.index {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used reports the bytes occupied by record files.
func (m *Medium) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Flush writes the index if it changed since the last flush.
func (m *Medium) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

// Close flushes the index.
func (m *Medium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Medium) flushLocked() error {
	if !m.dirty {
		return nil
	}
	if err := m.saveIndex(); err != nil {
		return errors.NewError(errors.ErrCodePersistenceWrite, "failed to write index").
			WithComponent("billyfs-medium").
			WithCause(err)
	}
	m.dirty = false
	return nil
}

func (m *Medium) dropLocked(key string) {
	rec := m.index[key]
	_ = m.fs.Remove(rec.File)
	m.used -= rec.Size
	delete(m.index, key)
	m.dirty = true
}

func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x.rec", hash[:16])
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

func (m *Medium) writeFile(rec *record, data []byte) (int64, error) {
	var buf bytes.Buffer
	if rec.Compressed {
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return 0, err
		}
		if err := gz.Close(); err != nil {
			return 0, err
		}
	} else {
		buf.Write(data)
	}

	file, err := m.fs.Create(rec.File + ".tmp")
	if err != nil {
		return 0, err
	}
	n, err := file.Write(buf.Bytes())
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = m.fs.Remove(rec.File + ".tmp")
		return 0, err
	}
	return int64(n), nil
}

func (m *Medium) readFile(rec *record) ([]byte, error) {
	file, err := m.fs.Open(rec.File)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}

// decode undoes the record's compression. Errors mean the payload is damaged.
func decode(rec *record, raw []byte) ([]byte, error) {
	if !rec.Compressed {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()
	return io.ReadAll(gz)
}

func (m *Medium) loadIndex() error {
	file, err := m.fs.Open(indexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var items map[string]*record
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		// An unreadable index loses the records it described; start fresh.
		return nil
	}

	for key, rec := range items {
		if _, err := m.fs.Stat(rec.File); err != nil {
			continue
		}
		m.index[key] = rec
		m.used += rec.Size
	}
	return nil
}

func (m *Medium) saveIndex() error {
	tmp := indexFile + ".tmp"
	file, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(file).Encode(m.index); err != nil {
		_ = file.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = m.fs.Remove(tmp)
		return err
	}
	return m.fs.Rename(tmp, indexFile)
}
