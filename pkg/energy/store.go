package energy

import "sync"

// MemoryStore is an in-memory reference Store, used in tests and as a
// fallback when no durable backing store is configured. Mirrors the
// mock NVS branch of nvs_energy.c (the !ESP_PLATFORM half): Init is a
// no-op flag flip, Load on an empty store returns ErrNotFound.
type MemoryStore struct {
	mu    sync.Mutex
	ready bool
	has   bool
	state State
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	return nil
}

func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		m.ready = true
	}
	if !m.has {
		return State{}, ErrNotFound
	}
	return m.state, nil
}

func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		m.ready = true
	}
	m.state = State{ChargedWh: sanitize(s.ChargedWh), DischargedWh: sanitize(s.DischargedWh)}
	m.has = true
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		m.ready = true
	}
	m.state = State{}
	m.has = false
	return nil
}
