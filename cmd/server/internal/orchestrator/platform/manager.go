package platform

import (
	"context"
	"fmt"
	"sync"
)

// Manager routes join requests to the adapter matching the meeting URL. Every
// Manager carries the simulated adapter; real platform adapters are added at
// wiring time when their gateways are configured.
type Manager struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
	joined   map[string]Adapter // meetingID -> adapter serving it
}

// NewManager creates a Manager seeded with the simulated adapter.
func NewManager() *Manager {
	m := &Manager{
		adapters: make(map[Kind]Adapter),
		joined:   make(map[string]Adapter),
	}
	m.Register(NewSimulatedAdapter())
	return m
}

// Register adds (or replaces) the adapter for its platform kind.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Kind()] = a
}

// Adapter returns the adapter registered for a platform kind.
func (m *Manager) Adapter(kind Kind) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[kind]
	return a, ok
}

// Join detects the platform from the meeting URL and joins through the
// matching adapter. An unregistered platform kind is an error rather than a
// silent fallback to simulation.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (<-chan Event, error) {
	kind := DetectKind(req.MeetingURL)

	m.mu.RLock()
	adapter, ok := m.adapters[kind]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", kind)
	}

	events, err := adapter.Join(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.joined[req.MeetingID] = adapter
	m.mu.Unlock()
	return events, nil
}

// Leave exits the meeting through whichever adapter joined it. Leaving a
// meeting that was never joined is a no-op.
func (m *Manager) Leave(ctx context.Context, meetingID string) error {
	m.mu.Lock()
	adapter, ok := m.joined[meetingID]
	if ok {
		delete(m.joined, meetingID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return adapter.Leave(ctx, meetingID)
}

// Kinds lists the registered platform kinds.
func (m *Manager) Kinds() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]Kind, 0, len(m.adapters))
	for k := range m.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
