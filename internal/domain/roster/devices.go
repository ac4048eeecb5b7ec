package roster

import (
	"sync"
	"time"

	"github.com/pedalhouse/engine/internal/domain/model"
)

// DeviceManager tracks every wearable from first signal to prolonged
// silence.
type DeviceManager struct {
	mu      sync.RWMutex
	devices map[string]*model.Device
}

// NewDeviceManager creates an empty device table.
func NewDeviceManager() *DeviceManager {
	return &DeviceManager{devices: make(map[string]*model.Device)}
}

// Observe folds one reading into the device table and returns the
// updated device.
func (m *DeviceManager) Observe(r model.Reading) model.Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[r.DeviceID]
	if !ok {
		d = &model.Device{ID: r.DeviceID, Metric: r.Metric}
		m.devices[r.DeviceID] = d
	}
	d.LastValue = r.Value
	d.LastSeenAt = r.Timestamp
	d.InactiveSince = nil
	return *d
}

// MarkIdle stamps a device as silent since the given time. Idempotent;
// the original silence start is kept.
func (m *DeviceManager) MarkIdle(deviceID string, since time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok || d.InactiveSince != nil {
		return
	}
	t := since
	d.InactiveSince = &t
}

// Get returns a snapshot of one device.
func (m *DeviceManager) Get(deviceID string) (model.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return model.Device{}, false
	}
	return *d, true
}

// Snapshot returns copies of every known device.
func (m *DeviceManager) Snapshot() []model.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}
