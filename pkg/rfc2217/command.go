package rfc2217

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

const decodeFailedSignature = "(string decode failed)"

// Decode parses bytes starting with the COM-PORT-OPTION byte and dispatches on
// the command byte, client or server direction.
func Decode(b []byte) (Command, error) {
	if len(b) < 2 {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrPayloadLength, len(b))
	}
	if b[0] != ComPortOption {
		return Command{}, fmt.Errorf("%w: option %d", ErrWrongOption, b[0])
	}
	tag, server := splitTag(b[1])
	if _, ok := commandBounds[tag]; !ok {
		return Command{}, fmt.Errorf("%w: command %d", ErrWrongCommand, b[1])
	}
	return decode(tag, server, b)
}

// DecodeAs parses b as the given command, in either direction.
func DecodeAs(tag Tag, b []byte) (Command, error) {
	if _, ok := commandBounds[tag]; !ok {
		return Command{}, fmt.Errorf("%w: command %d", ErrWrongCommand, tag)
	}
	if len(b) < 2 {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrPayloadLength, len(b))
	}
	if b[0] != ComPortOption {
		return Command{}, fmt.Errorf("%w: option %d", ErrWrongOption, b[0])
	}
	got, server := splitTag(b[1])
	if got != tag {
		return Command{}, fmt.Errorf("%w: got %d, want %s", ErrWrongCommand, b[1], tag)
	}
	return decode(tag, server, b)
}

func splitTag(b byte) (Tag, bool) {
	if b >= ServerOffset {
		return Tag(b - ServerOffset), true
	}
	return Tag(b), false
}

func decode(tag Tag, server bool, b []byte) (Command, error) {
	bd := commandBounds[tag]
	payload := b[2:]
	if len(payload) < bd.min || len(payload) > bd.max {
		return Command{}, fmt.Errorf("%w: %s payload of %d bytes, want %d..%d",
			ErrPayloadLength, bd.name, len(payload), bd.min, bd.max)
	}
	cmd := Command{Tag: tag, Server: server, Payload: bytes.Clone(payload)}
	if tag == Signature {
		sig, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
		if err != nil {
			cmd.signature, cmd.decodeFailed = decodeFailedSignature, true
		} else {
			cmd.signature = string(sig)
		}
	}
	return cmd, nil
}

// Encode renders the command starting with the COM-PORT-OPTION byte. Telnet
// framing and IAC escaping are left to the transport.
func (c Command) Encode() []byte {
	out := make([]byte, 0, 2+len(c.Payload))
	out = append(out, ComPortOption, c.wireTag())
	return append(out, c.Payload...)
}

func (c Command) wireTag() byte {
	if c.Server {
		return byte(c.Tag) + ServerOffset
	}
	return byte(c.Tag)
}

// NewSignature builds a signature command carrying sig. Characters outside
// ISO-8859-1 are sent as '?'.
func NewSignature(client bool, sig string) Command {
	payload, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(sig))
	if err != nil {
		payload = encodeLossy(sig)
	}
	return Command{Tag: Signature, Server: !client, Payload: payload, signature: string(mustDecodeLatin1(payload))}
}

// NewSignatureRequest asks the peer for its signature.
func NewSignatureRequest(client bool) Command {
	return Command{Tag: Signature, Server: !client, Payload: []byte{}}
}

func NewSetBaudRate(client bool, rate uint32) Command {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, rate)
	return Command{Tag: SetBaudRate, Server: !client, Payload: payload}
}

// NewByteCommand builds any of the single byte payload commands.
func NewByteCommand(tag Tag, client bool, value byte) (Command, error) {
	bd, ok := commandBounds[tag]
	if !ok || bd.min != 1 || bd.max != 1 {
		return Command{}, fmt.Errorf("%w: %s does not carry a single byte", ErrWrongCommand, tag)
	}
	return Command{Tag: tag, Server: !client, Payload: []byte{value}}, nil
}

func (c Command) Name() string {
	return c.Tag.String()
}

// Signature returns the decoded signature text. Empty means a request.
func (c Command) Signature() string {
	return c.signature
}

// DecodeFailed reports that the signature text could not be decoded.
func (c Command) DecodeFailed() bool {
	return c.decodeFailed
}

// BaudRate of a SET-BAUDRATE command, 0 for anything else.
func (c Command) BaudRate() uint32 {
	if c.Tag != SetBaudRate || len(c.Payload) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(c.Payload)
}

// Value is the payload byte of single byte commands.
func (c Command) Value() byte {
	if len(c.Payload) != 1 {
		return 0
	}
	return c.Payload[0]
}

func (c Command) String() string {
	switch c.Tag {
	case Signature:
		if len(c.Payload) == 0 {
			return c.Name() + " REQUEST"
		}
		return fmt.Sprintf("%s %q", c.Name(), c.signature)
	case SetBaudRate:
		return fmt.Sprintf("%s %d", c.Name(), c.BaudRate())
	case NotifyLineState, SetLineStateMask:
		return c.Name() + " " + DecodeBits(c.Value(), LineStateBits)
	case NotifyModemState, SetModemStateMask:
		return c.Name() + " " + DecodeBits(c.Value(), ModemStateBits)
	case FlowControlSuspend, FlowControlResume:
		return c.Name()
	}
	return fmt.Sprintf("%s %d", c.Name(), c.Value())
}

func (t Tag) String() string {
	if bd, ok := commandBounds[t]; ok {
		return bd.name
	}
	return fmt.Sprintf("COMMAND-%d", byte(t))
}

func encodeLossy(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			out = append(out, '?')
			continue
		}
		out = append(out, byte(r))
	}
	return out
}

func mustDecodeLatin1(b []byte) []byte {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return []byte(decodeFailedSignature)
	}
	return out
}
