// Package transport opens the byte stream to a meter, either a local serial
// device or a remote serial port behind an RFC 2217 telnet server.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNoSuchHost           = errors.New("no such host")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrNoCreator            = errors.New("no transport can open port")
)

// Transport is an open, exclusively owned connection to a meter.
type Transport interface {
	io.ReadWriteCloser
	Name() string
	// SetBaudRate switches the line speed of an open connection.
	SetBaudRate(rate uint) error
}

// Kind restricts which creators may serve a port name.
type Kind uint8

const (
	KindAny Kind = iota
	KindLocal
	KindRemote
)

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// Options describe the serial line.
type Options struct {
	BaudRate uint
	DataBits uint
	StopBits uint
	Parity   Parity

	// ProbeHost pings a remote host before connecting.
	ProbeHost bool
}

// Options8N1 is the line setting of SML and DSMR meters.
func Options8N1(rate uint) Options {
	return Options{BaudRate: rate, DataBits: 8, StopBits: 1, Parity: ParityNone}
}

// Options7E1 is the line setting of IEC 62056-21.
func Options7E1(rate uint) Options {
	return Options{BaudRate: rate, DataBits: 7, StopBits: 1, Parity: ParityEven}
}

// Creator opens one kind of transport.
type Creator interface {
	IsApplicable(portName string, kind Kind) bool
	Protocol() string
	Create(ctx context.Context, portName string, opts Options) (Transport, error)
}
