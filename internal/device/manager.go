package device

import "sync"

// Manager is the registry of live devices. It is safe for concurrent use by
// ingestion and report generation.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{devices: make(map[string]*Device)}
}

// Device returns the live device with id.
func (m *Manager) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Ensure returns the device with id, registering it on first use.
func (m *Manager) Ensure(id string) *Device {
	if d, ok := m.Device(id); ok {
		return d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		return d
	}
	d := New(id)
	m.devices[id] = d
	return d
}

// Select returns the registered devices among ids, in the order given.
// Unknown and duplicate identifiers are skipped.
func (m *Manager) Select(ids []string) []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if d, ok := m.devices[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}
