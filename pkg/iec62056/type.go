// Package iec62056 reads IEC 62056-21 meters: the polled modes A, B and C
// and the push mode D used by DSMR/P1 ports.
package iec62056

import (
	"fmt"

	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

const (
	SOH = 0x01
	STX = 0x02
	ETX = 0x03
	ACK = 0x06
	NAK = 0x15
)

var (
	ErrIdentification = fmt.Errorf("%w: bad identification message", types.ErrInvalidFrame)
	ErrBCC            = fmt.Errorf("%w: block check character mismatch", types.ErrInvalidFrame)
	ErrCRC            = fmt.Errorf("%w: telegram CRC mismatch", types.ErrInvalidFrame)
	ErrDataBlock      = fmt.Errorf("%w: malformed data block", types.ErrInvalidFrame)
)

// Identification is the meter's answer to a request message, /XXXZ<ident>.
type Identification struct {
	Manufacturer string
	BaudChar     byte
	Ident        string
}

// Mode derives the protocol mode from the baud rate character: digits are
// mode C, A..I mode B, anything else mode A.
func (id Identification) Mode() types.ProtocolMode {
	switch {
	case id.BaudChar >= '0' && id.BaudChar <= '9':
		return types.ModeC
	case id.BaudChar >= 'A' && id.BaudChar <= 'I':
		return types.ModeB
	}
	return types.ModeA
}

// BaudRate is the rate the meter proposes, 0 when it keeps the initial one.
func (id Identification) BaudRate() uint {
	rate, _ := BaudRateForChar(id.BaudChar)
	return rate
}

func (id Identification) String() string {
	return fmt.Sprintf("/%s%c%s", id.Manufacturer, id.BaudChar, id.Ident)
}

var modeCBaudRates = map[byte]uint{
	'0': 300,
	'1': 600,
	'2': 1200,
	'3': 2400,
	'4': 4800,
	'5': 9600,
	'6': 19200,
}

var modeBBaudRates = map[byte]uint{
	'A': 600,
	'B': 1200,
	'C': 2400,
	'D': 4800,
	'E': 9600,
	'F': 19200,
}

// BaudRateForChar maps an identification baud character to its rate.
func BaudRateForChar(c byte) (uint, bool) {
	if r, ok := modeCBaudRates[c]; ok {
		return r, true
	}
	r, ok := modeBBaudRates[c]
	return r, ok
}

// CharForBaudRate is the mode C character announcing rate.
func CharForBaudRate(rate uint) (byte, bool) {
	for c, r := range modeCBaudRates {
		if r == rate {
			return c, true
		}
	}
	return 0, false
}

// DataMessage is one complete readout.
type DataMessage struct {
	Identification Identification
	Frame          types.Frame
}
