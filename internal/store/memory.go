package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// seriesLockKey is the scope key guarding the global series space.
const seriesLockKey = "series"

// Memory is an in-process Store. Reservations are serialized per scope key,
// which only holds within one process; use a database-backed store when
// several instances allocate concurrently.
type Memory struct {
	locks sync.Map // scope key -> *sync.Mutex

	mu       sync.RWMutex
	counters map[string]int
	pallets  map[string]models.PalletRecord
	series   map[string]struct{}
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]int),
		pallets:  make(map[string]models.PalletRecord),
		series:   make(map[string]struct{}),
	}
}

func (m *Memory) lock(key string) func() {
	v, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// MaxSequenceForScope implements Sequences.
func (m *Memory) MaxSequenceForScope(ctx context.Context, scope string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return max(m.maxIssued(scope), m.counters[scope]), nil
}

// maxIssued returns the highest sequence persisted for scope.
// Caller must hold m.mu.
func (m *Memory) maxIssued(scope string) int {
	highest := 0
	for _, p := range m.pallets {
		if p.Scope == scope && p.Sequence > highest {
			highest = p.Sequence
		}
	}
	return highest
}

// ReserveSequence implements Sequences.
func (m *Memory) ReserveSequence(ctx context.Context, scope string, count int) (int, error) {
	if count < 1 {
		return 0, fmt.Errorf("reserve sequence: count must be >= 1, got %d", count)
	}
	unlock := m.lock(scope)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	first := max(m.maxIssued(scope), m.counters[scope]) + 1
	m.counters[scope] = first + count - 1
	return first, nil
}

// ReserveSeries implements Sequences.
func (m *Memory) ReserveSeries(ctx context.Context, codes []string) ([]string, error) {
	unlock := m.lock(seriesLockKey)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var taken []string
	for _, c := range codes {
		if _, ok := m.series[c]; ok {
			taken = append(taken, c)
		}
	}
	if len(taken) > 0 {
		return taken, nil
	}
	for _, c := range codes {
		m.series[c] = struct{}{}
	}
	return nil, nil
}

// SavePallets implements Pallets.
func (m *Memory) SavePallets(ctx context.Context, records []models.PalletRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.pallets[r.PalletNumber]; ok {
			return fmt.Errorf("save pallets: %s: %w", r.PalletNumber, ErrConflict)
		}
	}
	for _, r := range records {
		m.pallets[r.PalletNumber] = r
	}
	return nil
}

// SetDocumentURL implements Pallets.
func (m *Memory) SetDocumentURL(ctx context.Context, palletNumber, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pallets[palletNumber]
	if !ok {
		return fmt.Errorf("set document url: %s: %w", palletNumber, ErrNotFound)
	}
	p.DocumentURL = url
	m.pallets[palletNumber] = p
	return nil
}

// CountPalletsForParent implements Pallets.
func (m *Memory) CountPalletsForParent(ctx context.Context, parentRef string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.pallets {
		if p.ParentRef == parentRef {
			n++
		}
	}
	return n, nil
}

// Pallet returns a stored pallet row.
func (m *Memory) Pallet(palletNumber string) (models.PalletRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pallets[palletNumber]
	return p, ok
}
