// Package memory provides an in-process durable medium. It survives
// manager re-creation within one process and is used for tests and for
// hosts without real storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Medium stores records in a map with an optional byte quota.
type Medium struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int64
	quota int64
}

// New creates a medium. A quota of zero or less means unlimited.
func New(quota int64) *Medium {
	return &Medium{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the stored record.
func (m *Medium) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores data under key, failing with QUOTA_EXCEEDED when the
// write would grow the medium past its quota.
func (m *Medium) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - int64(len(m.data[key])) + int64(len(data))
	if m.quota > 0 && used > m.quota {
		return errors.NewError(errors.ErrCodeQuotaExceeded,
			fmt.Sprintf("write of %d bytes exceeds quota of %d bytes", len(data), m.quota)).
			WithComponent("memory-medium").
			WithOperation("put").
			WithContext("key", key)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	m.used = used
	return nil
}

// Delete removes key. Missing keys are ignored.
func (m *Medium) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.data[key]; ok {
		m.used -= int64(len(data))
		delete(m.data, key)
	}
	return nil
}

// List returns the keys beginning with prefix in lexical order.
func (m *Medium) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used reports the number of bytes currently stored.
func (m *Medium) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Len reports the number of stored records.
func (m *Medium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
