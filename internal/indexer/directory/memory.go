package directory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// Memory keeps files in process memory. Used by tests and the "memory"
// storage backend.
type Memory struct {
	mu     sync.RWMutex
	files  map[string][]byte
	locked bool
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	data, ok := m.files[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNotFound)
	}
	return memBlob{Reader: bytes.NewReader(data)}, nil
}

func (m *Memory) ReadFile(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	return bytes.Clone(data), nil
}

func (m *Memory) WriteFile(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = bytes.Clone(data)
	return nil
}

func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Close() error { return nil }

// Lock is exclusive within the process.
func (m *Memory) Lock() (io.Closer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return nil, apperrors.ErrLocked
	}
	m.locked = true
	return memLock{m: m}, nil
}

type memLock struct{ m *Memory }

func (l memLock) Close() error {
	l.m.mu.Lock()
	l.m.locked = false
	l.m.mu.Unlock()
	return nil
}

// bytes.Reader already provides ReadAt and Size.
type memBlob struct {
	*bytes.Reader
}

func (memBlob) Close() error { return nil }
