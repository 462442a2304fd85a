package rfc2217

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type readState uint8

const (
	stateData readState = iota
	stateIAC
	stateOption
	stateSB
	stateSBIAC
)

// Port is a serial port reached over telnet with the COM-PORT option.
// Reads return only payload bytes, telnet negotiation is handled inline.
type Port struct {
	conn net.Conn
	r    *bufio.Reader
	log  zerolog.Logger

	writeMu sync.Mutex

	// read side state, only touched by the reading goroutine
	state   readState
	verb    byte
	sub     []byte
	subOver bool

	mu          sync.Mutex
	signature   string
	lineState   byte
	modemState  byte
	comPortAck  bool
	lastCommand Command
}

// Dial connects to address (host:port) and starts the COM-PORT negotiation.
func Dial(ctx context.Context, address string, log zerolog.Logger) (*Port, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	p := NewPort(conn, log)
	if err := p.negotiate(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewPort wraps an established connection. Negotiation is not started.
func NewPort(conn net.Conn, log zerolog.Logger) *Port {
	return &Port{
		conn: conn,
		r:    bufio.NewReader(conn),
		log:  log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

func (p *Port) negotiate() error {
	if err := p.writeRaw([]byte{
		IAC, WILL, OptionBinary,
		IAC, DO, OptionBinary,
		IAC, WILL, OptionSuppressGoAhead,
		IAC, DO, OptionSuppressGoAhead,
		IAC, WILL, ComPortOption,
	}); err != nil {
		return fmt.Errorf("telnet negotiation: %w", err)
	}
	return p.SendCommand(NewSignatureRequest(true))
}

// SendCommand writes a COM-PORT subnegotiation.
func (p *Port) SendCommand(cmd Command) error {
	frame := []byte{IAC, SB}
	frame = append(frame, escapeIAC(cmd.Encode())...)
	frame = append(frame, IAC, SE)
	p.log.Trace().Str("command", cmd.String()).Msg("sending COM-PORT command")
	return p.writeRaw(frame)
}

// SetBaudRate asks the remote server to switch the line speed.
func (p *Port) SetBaudRate(rate uint) error {
	return p.SendCommand(NewSetBaudRate(true, uint32(rate)))
}

// SetLine sends SET-DATASIZE, SET-PARITY and SET-STOPSIZE in that order.
// parity and stopSize take the ParityX and StopBitsX values.
func (p *Port) SetLine(dataSize, parity, stopSize byte) error {
	for _, c := range []struct {
		tag   Tag
		value byte
	}{{SetDataSize, dataSize}, {SetParity, parity}, {SetStopSize, stopSize}} {
		cmd, err := NewByteCommand(c.tag, true, c.value)
		if err != nil {
			return err
		}
		if err := p.SendCommand(cmd); err != nil {
			return fmt.Errorf("sending %s: %w", c.tag, err)
		}
	}
	return nil
}

// RemoteSignature is the last signature the server sent, empty until then.
func (p *Port) RemoteSignature() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signature
}

// LineState and ModemState are the last notified masks.
func (p *Port) LineState() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineState
}

func (p *Port) ModemState() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modemState
}

// ComPortAccepted reports whether the server agreed to the COM-PORT option.
func (p *Port) ComPortAccepted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comPortAck
}

// LastCommand is the most recent command received from the server.
func (p *Port) LastCommand() Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCommand
}

func (p *Port) Name() string {
	return "rfc2217://" + p.conn.RemoteAddr().String()
}

func (p *Port) Write(b []byte) (int, error) {
	if err := p.writeRaw(escapeIAC(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Port) writeRaw(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write(b)
	return err
}

// Read returns payload bytes. It blocks until at least one data byte arrived.
func (p *Port) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		if n > 0 && p.r.Buffered() == 0 {
			break
		}
		c, err := p.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if data, ok := p.filter(c); ok {
			b[n] = data
			n++
		}
	}
	return n, nil
}

func (p *Port) SetReadDeadline(t time.Time) error {
	return p.conn.SetReadDeadline(t)
}

func (p *Port) Close() error {
	return p.conn.Close()
}

// filter runs the telnet state machine; ok is true for a payload byte.
func (p *Port) filter(c byte) (byte, bool) {
	switch p.state {
	case stateData:
		if c == IAC {
			p.state = stateIAC
			return 0, false
		}
		return c, true
	case stateIAC:
		switch c {
		case IAC:
			p.state = stateData
			return IAC, true
		case WILL, WONT, DO, DONT:
			p.verb = c
			p.state = stateOption
		case SB:
			p.sub = p.sub[:0]
			p.subOver = false
			p.state = stateSB
		default:
			p.state = stateData
		}
	case stateOption:
		p.handleOption(p.verb, c)
		p.state = stateData
	case stateSB:
		if c == IAC {
			p.state = stateSBIAC
			return 0, false
		}
		p.appendSub(c)
	case stateSBIAC:
		switch c {
		case IAC:
			p.appendSub(IAC)
			p.state = stateSB
		case SE:
			p.handleSub()
			p.state = stateData
		default:
			p.state = stateData
		}
	}
	return 0, false
}

const maxSubnegotiation = 4096

func (p *Port) appendSub(c byte) {
	if len(p.sub) >= maxSubnegotiation {
		p.subOver = true
		return
	}
	p.sub = append(p.sub, c)
}

func (p *Port) handleOption(verb, option byte) {
	switch option {
	case OptionBinary, OptionSuppressGoAhead:
		return
	case ComPortOption:
		p.mu.Lock()
		p.comPortAck = verb == DO || verb == WILL
		p.mu.Unlock()
		if verb == DONT {
			p.log.Warn().Msg("server refused the COM-PORT option")
		}
		return
	}
	var reply byte
	switch verb {
	case DO:
		reply = WONT
	case WILL:
		reply = DONT
	default:
		return
	}
	if err := p.writeRaw([]byte{IAC, reply, option}); err != nil {
		p.log.Debug().Err(err).Uint8("option", option).Msg("refusing telnet option failed")
	}
}

func (p *Port) handleSub() {
	if p.subOver {
		p.log.Warn().Msg("dropping oversized subnegotiation")
		return
	}
	if len(p.sub) == 0 || p.sub[0] != ComPortOption {
		return
	}
	cmd, err := Decode(p.sub)
	if err != nil {
		// a bad command is dropped, the session goes on
		p.log.Warn().Err(err).Str("raw", RawBytes(p.sub)).Msg("rejecting COM-PORT command")
		return
	}

	p.mu.Lock()
	p.lastCommand = cmd
	switch cmd.Tag {
	case Signature:
		if cmd.Server && len(cmd.Payload) > 0 {
			p.signature = cmd.Signature()
		}
	case NotifyLineState:
		p.lineState = cmd.Value()
	case NotifyModemState:
		p.modemState = cmd.Value()
	}
	p.mu.Unlock()

	if cmd.Tag == Signature && len(cmd.Payload) == 0 {
		if err := p.SendCommand(NewSignature(true, "obis_meter_reader")); err != nil {
			p.log.Debug().Err(err).Msg("answering signature request failed")
		}
	}
	p.log.Debug().Str("command", cmd.String()).Bool("decodeFailed", cmd.DecodeFailed()).Msg("COM-PORT command received")
}

func escapeIAC(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		out = append(out, c)
		if c == IAC {
			out = append(out, IAC)
		}
	}
	return out
}
