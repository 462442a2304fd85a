package iec62056

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// Port is the line a Reader talks over.
type Port interface {
	io.ReadWriter
	SetBaudRate(rate uint) error
}

type ReaderOptions struct {
	// InitMessage is written before every request to wake up the meter.
	InitMessage []byte
	// DeviceAddress selects one meter on a shared bus, empty for any.
	DeviceAddress string
	// InitialBaudRate is the rate the port was opened with.
	InitialBaudRate uint
	// ChangeDelay is waited between the acknowledgement and the baud switch.
	ChangeDelay time.Duration
}

// Reader performs polled readouts in modes A, B and C. It is not safe for
// concurrent use.
type Reader struct {
	port Port
	r    *bufio.Reader
	opts ReaderOptions
	log  zerolog.Logger
	rate uint
}

func NewReader(port Port, opts ReaderOptions, log zerolog.Logger) *Reader {
	return &Reader{
		port: port,
		r:    bufio.NewReader(port),
		opts: opts,
		log:  log,
		rate: opts.InitialBaudRate,
	}
}

// RequestMessage is "/?<address>!\r\n".
func RequestMessage(address string) []byte {
	return []byte("/?" + address + "!\r\n")
}

// AckMessage selects data readout at the rate announced by baudChar.
func AckMessage(baudChar byte) []byte {
	return []byte{ACK, '0', baudChar, '0', '\r', '\n'}
}

// Read runs one readout: request, identification, optional baud switch and
// the data message.
func (r *Reader) Read() (DataMessage, error) {
	var msg DataMessage

	if len(r.opts.InitMessage) > 0 {
		if _, err := r.port.Write(r.opts.InitMessage); err != nil {
			return msg, fmt.Errorf("writing init message: %w", err)
		}
	}
	request := RequestMessage(r.opts.DeviceAddress)
	if _, err := r.port.Write(request); err != nil {
		return msg, fmt.Errorf("writing request message: %w", err)
	}

	id, err := r.readIdentification(string(request))
	if err != nil {
		return msg, err
	}
	msg.Identification = id
	r.log.Debug().Str("identification", id.String()).Str("mode", string(id.Mode())).Msg("meter identified")

	if err := r.switchBaudRate(id); err != nil {
		return msg, err
	}

	block, err := r.readDataBlock()
	if err != nil {
		return msg, err
	}
	values, err := ParseDataBlock(block)
	if err != nil {
		return msg, err
	}
	msg.Frame.Values = values
	return msg, nil
}

// readIdentification skips the echo of half-duplex optical heads.
func (r *Reader) readIdentification(request string) (Identification, error) {
	for range 4 {
		line, err := r.r.ReadString('\n')
		if err != nil {
			return Identification{}, fmt.Errorf("reading identification: %w", err)
		}
		if line == request || !strings.HasPrefix(strings.TrimLeft(line, "\x00\r\n"), "/") {
			continue
		}
		return ParseIdentification(strings.TrimLeft(line, "\x00\r\n"))
	}
	return Identification{}, ErrIdentification
}

func (r *Reader) switchBaudRate(id Identification) error {
	rate := id.BaudRate()
	switch id.Mode() {
	case types.ModeC:
		if _, err := r.port.Write(AckMessage(id.BaudChar)); err != nil {
			return fmt.Errorf("writing acknowledgement: %w", err)
		}
	case types.ModeB:
	default:
		return nil
	}
	if rate == 0 || rate == r.rate {
		return nil
	}
	time.Sleep(r.opts.ChangeDelay)
	if err := r.port.SetBaudRate(rate); err != nil {
		return fmt.Errorf("switching to %d baud: %w", rate, err)
	}
	r.log.Debug().Uint("from", r.rate).Uint("to", rate).Msg("baud rate switched")
	r.rate = rate
	return nil
}

func (r *Reader) readDataBlock() (string, error) {
	if _, err := r.r.ReadBytes(STX); err != nil {
		return "", fmt.Errorf("waiting for data block: %w", err)
	}
	body, err := r.r.ReadBytes(ETX)
	if err != nil {
		return "", fmt.Errorf("reading data block: %w", err)
	}
	bcc, err := r.r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("reading block check character: %w", err)
	}
	if got := BlockCheck(body); got != bcc {
		return "", fmt.Errorf("%w: got 0x%02x, computed 0x%02x", ErrBCC, bcc, got)
	}
	return string(body[:len(body)-1]), nil
}
