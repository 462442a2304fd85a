// Package rfc2217 implements the subset of the telnet COM-PORT option (RFC 2217)
// needed to read a meter through a remote serial port server.
package rfc2217

import "errors"

var (
	ErrWrongOption   = errors.New("rfc2217: not a COM-PORT-OPTION command")
	ErrWrongCommand  = errors.New("rfc2217: unexpected command")
	ErrPayloadLength = errors.New("rfc2217: payload length out of bounds")
)

// Telnet protocol bytes.
const (
	IAC  byte = 255
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250
	SE   byte = 240

	OptionBinary          byte = 0
	OptionSuppressGoAhead byte = 3
	ComPortOption         byte = 44
)

// Tag is the client side command number. Server to client commands carry
// Tag + ServerOffset on the wire.
type Tag byte

const (
	Signature          Tag = 0
	SetBaudRate        Tag = 1
	SetDataSize        Tag = 2
	SetParity          Tag = 3
	SetStopSize        Tag = 4
	SetControl         Tag = 5
	NotifyLineState    Tag = 6
	NotifyModemState   Tag = 7
	FlowControlSuspend Tag = 8
	FlowControlResume  Tag = 9
	SetLineStateMask   Tag = 10
	SetModemStateMask  Tag = 11
	PurgeData          Tag = 12

	ServerOffset byte = 100
)

// SET-PARITY and SET-STOPSIZE values.
const (
	ParityNone byte = 1
	ParityOdd  byte = 2
	ParityEven byte = 3

	StopBits1  byte = 1
	StopBits2  byte = 2
	StopBits15 byte = 3
)

// Command is one decoded or encodable COM-PORT-OPTION subnegotiation.
type Command struct {
	Tag     Tag
	Server  bool
	Payload []byte

	signature    string
	decodeFailed bool
}

type bounds struct {
	name     string
	min, max int
}

var commandBounds = map[Tag]bounds{
	Signature:          {"SIGNATURE", 0, 1<<31 - 3},
	SetBaudRate:        {"SET-BAUDRATE", 4, 4},
	SetDataSize:        {"SET-DATASIZE", 1, 1},
	SetParity:          {"SET-PARITY", 1, 1},
	SetStopSize:        {"SET-STOPSIZE", 1, 1},
	SetControl:         {"SET-CONTROL", 1, 1},
	NotifyLineState:    {"NOTIFY-LINESTATE", 1, 1},
	NotifyModemState:   {"NOTIFY-MODEMSTATE", 1, 1},
	FlowControlSuspend: {"FLOWCONTROL-SUSPEND", 0, 0},
	FlowControlResume:  {"FLOWCONTROL-RESUME", 0, 0},
	SetLineStateMask:   {"SET-LINESTATE-MASK", 1, 1},
	SetModemStateMask:  {"SET-MODEMSTATE-MASK", 1, 1},
	PurgeData:          {"PURGE-DATA", 1, 1},
}

// LineStateBits names the NOTIFY-LINESTATE bits, most significant bit first.
var LineStateBits = [8]string{
	"TIME_OUT", "TRANSFER_SHIFT_REGISTER_EMPTY", "TRANSFER_HOLDING_REGISTER_EMPTY", "BREAK_DETECT",
	"FRAMING_ERROR", "PARITY_ERROR", "OVERRUN_ERROR", "DATA_READY",
}

// ModemStateBits names the NOTIFY-MODEMSTATE bits, most significant bit first.
var ModemStateBits = [8]string{
	"CARRIER_DETECT", "RING_INDICATOR", "DSR", "CTS",
	"DELTA_CARRIER_DETECT", "TRAILING_EDGE_RING_DETECTOR", "DELTA_DSR", "DELTA_CTS",
}
