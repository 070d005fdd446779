// Package memory implements the store interface in process memory. Nothing survives a restart; it serves tests and
// deployments that configure their subjects elsewhere.
package memory

import (
	"context"
	"sync"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
)

// Memory implements store.DB.
type Memory struct {
	mu       sync.Mutex
	subjects map[string][]string
	lists    map[string]model.FilterLists
}

// New returns an empty store.
func New() *Memory {
	return &Memory{subjects: map[string][]string{}, lists: map[string]model.FilterLists{}}
}

// AddSubject implements store.DB.
func (m *Memory) AddSubject(_ context.Context, net, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subjects[net] {
		if s == addr {
			return nil
		}
	}

	m.subjects[net] = append(m.subjects[net], addr)

	return nil
}

// RemoveSubject implements store.DB.
func (m *Memory) RemoveSubject(_ context.Context, net, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss := m.subjects[net]
	for i, s := range ss {
		if s == addr {
			m.subjects[net] = append(ss[:i:i], ss[i+1:]...)

			return nil
		}
	}

	return store.ErrSubjectNotFound
}

// GetSubjects implements store.DB.
func (m *Memory) GetSubjects(_ context.Context, net string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.subjects[net]...), nil
}

// SaveLists implements store.DB.
func (m *Memory) SaveLists(_ context.Context, net string, l model.FilterLists) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[net] = model.FilterLists{
		Allowlist: append([]string(nil), l.Allowlist...),
		Denylist:  append([]string(nil), l.Denylist...),
	}

	return nil
}

// LoadLists implements store.DB.
func (m *Memory) LoadLists(_ context.Context, net string) (model.FilterLists, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lists[net]
	if !ok {
		return model.FilterLists{}, store.ErrDataNotFound
	}

	return l, nil
}

// Close implements store.DB.
func (m *Memory) Close() error {
	return nil
}
