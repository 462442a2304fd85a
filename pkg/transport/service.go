package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial/enumerator"
)

// Resolver hands a port name to the first creator that accepts it.
type Resolver struct {
	creators []Creator
	log      zerolog.Logger
}

// NewResolver uses the remote and local creators when none are given.
func NewResolver(log zerolog.Logger, creators ...Creator) *Resolver {
	if len(creators) == 0 {
		creators = []Creator{RemoteCreator{Log: log}, LocalCreator{Log: log}}
	}
	return &Resolver{creators: creators, log: log}
}

// Creator returns the creator that would serve portName.
func (r *Resolver) Creator(portName string, kind Kind) (Creator, error) {
	for _, c := range r.creators {
		if c.IsApplicable(portName, kind) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoCreator, portName)
}

func (r *Resolver) Open(ctx context.Context, portName string, opts Options) (Transport, error) {
	c, err := r.Creator(portName, KindAny)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("port", portName).Str("protocol", c.Protocol()).Msg("opening transport")
	return c.Create(ctx, portName, opts)
}

// Connector owns the transport of one read cycle. Close may be called any
// number of times, also after a failed Open and from other goroutines.
type Connector struct {
	resolver *Resolver
	portName string
	opts     Options

	mu     sync.Mutex
	t      Transport
	closed bool
}

func NewConnector(resolver *Resolver, portName string, opts Options) *Connector {
	return &Connector{resolver: resolver, portName: portName, opts: opts}
}

func (c *Connector) Open(ctx context.Context) (Transport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connector for %s already closed", ErrUnsupportedOperation, c.portName)
	}
	if c.t != nil {
		t := c.t
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	t, err := c.resolver.Open(ctx, c.portName, c.opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		t.Close()
		return nil, fmt.Errorf("%w: connector for %s closed while opening", ErrUnsupportedOperation, c.portName)
	}
	c.t = t
	return t, nil
}

// Transport is the open transport or nil.
func (c *Connector) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.t == nil {
		return nil
	}
	return c.t.Close()
}

// PortInfo describes a local serial device.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns the local serial devices, sorted by name.
func ListPorts() []PortInfo {
	if ports, err := enumerator.GetDetailedPortsList(); err == nil && len(ports) > 0 {
		out := make([]PortInfo, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, PortInfo{
				Name:         p.Name,
				IsUSB:        p.IsUSB,
				VID:          p.VID,
				PID:          p.PID,
				SerialNumber: p.SerialNumber,
				Product:      p.Product,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}

	var names []string
	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		names = listByGlob("/dev/cu.*", "/dev/tty.*")
	default:
		// optical heads are usually USB serial adapters, RS485 hats show up as ttyAMA/ttyS
		names = listByGlob("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*")
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
