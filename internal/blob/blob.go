// Package blob stores rendered documents and returns their URLs.
// Puts overwrite existing objects of the same name.
package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ContentTypePDF is set on every uploaded document.
const ContentTypePDF = "application/pdf"

// Memory keeps objects in process.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	base    string
}

// NewMemory creates an empty store. URLs are "<base>/<name>"; an empty base
// uses "mem://labels".
func NewMemory(base string) *Memory {
	if base == "" {
		base = "mem://labels"
	}
	return &Memory{objects: make(map[string][]byte), base: strings.TrimRight(base, "/")}
}

// Put stores a copy of data under name.
func (m *Memory) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", fmt.Errorf("memory blob: empty object name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	return m.base + "/" + name, nil
}

// Get returns a stored object.
func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[name]
	return b, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
