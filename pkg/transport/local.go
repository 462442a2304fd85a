package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"
)

const ProtocolLocal = "local"

// LocalCreator opens platform serial devices. It accepts every name that is
// not claimed by another creator, so it belongs last in a Resolver.
type LocalCreator struct {
	Log zerolog.Logger
}

func (c LocalCreator) Protocol() string {
	return ProtocolLocal
}

func (c LocalCreator) IsApplicable(portName string, kind Kind) bool {
	return kind != KindRemote && portName != ""
}

func (c LocalCreator) Create(_ context.Context, portName string, opts Options) (Transport, error) {
	p := &serialPort{name: portName, opts: opts, log: c.Log}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

type serialPort struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	opts   Options
	port   io.ReadWriteCloser
	closed bool
}

func (p *serialPort) open() error {
	options := serial.OpenOptions{
		PortName:        p.name,
		BaudRate:        p.opts.BaudRate,
		DataBits:        p.opts.DataBits,
		StopBits:        p.opts.StopBits,
		ParityMode:      parityMode(p.opts.Parity),
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", p.name, err)
	}
	p.port = port
	p.log.Debug().Str("port", p.name).Uint("baudrate", p.opts.BaudRate).Msg("serial port opened")
	return nil
}

func parityMode(p Parity) serial.ParityMode {
	switch p {
	case ParityEven:
		return serial.PARITY_EVEN
	case ParityOdd:
		return serial.PARITY_ODD
	}
	return serial.PARITY_NONE
}

func (p *serialPort) current() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.port == nil {
		return nil, fmt.Errorf("serial port %s: %w", p.name, io.ErrClosedPipe)
	}
	return p.port, nil
}

func (p *serialPort) Read(b []byte) (int, error) {
	port, err := p.current()
	if err != nil {
		return 0, err
	}
	return port.Read(b)
}

func (p *serialPort) Write(b []byte) (int, error) {
	port, err := p.current()
	if err != nil {
		return 0, err
	}
	return port.Write(b)
}

func (p *serialPort) Name() string {
	return p.name
}

// SetBaudRate reopens the device, the serial library cannot change the speed
// of an open descriptor.
func (p *serialPort) SetBaudRate(rate uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("serial port %s: %w", p.name, io.ErrClosedPipe)
	}
	if p.port != nil {
		p.port.Close()
		p.port = nil
	}
	p.opts.BaudRate = rate
	return p.open()
}

func (p *serialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.port == nil {
		return nil
	}
	p.log.Debug().Str("port", p.name).Msg("serial port closed")
	return p.port.Close()
}
