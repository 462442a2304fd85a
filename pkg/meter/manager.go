package meter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/transport"
)

var ErrDuplicateDevice = errors.New("duplicate device id")

// Manager owns the devices of one reader process.
type Manager struct {
	listener Listener
	resolver *transport.Resolver
	log      zerolog.Logger

	mu      sync.RWMutex
	devices map[string]*Device
}

func NewManager(listener Listener, resolver *transport.Resolver, log zerolog.Logger) *Manager {
	return &Manager{
		listener: listener,
		resolver: resolver,
		log:      log,
		devices:  make(map[string]*Device),
	}
}

// Add configures and starts a device. A device with a configuration error is
// kept so its status stays visible, the error is returned.
func (m *Manager) Add(ctx context.Context, cfg Config) (*Device, error) {
	m.mu.Lock()
	if _, ok := m.devices[cfg.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, cfg.ID)
	}
	d := NewDevice(cfg, m.listener, m.resolver, m.log)
	m.devices[cfg.ID] = d
	m.mu.Unlock()

	if err := d.Configure(); err != nil {
		return d, err
	}
	return d, d.Start(ctx)
}

func (m *Manager) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns the devices ordered by id.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove disposes and forgets a device.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	d, ok := m.devices[id]
	delete(m.devices, id)
	m.mu.Unlock()
	if ok {
		d.Dispose()
	}
}

// Close disposes every device.
func (m *Manager) Close() {
	var wg sync.WaitGroup
	for _, d := range m.Devices() {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			d.Dispose()
		}(d)
	}
	wg.Wait()
}
