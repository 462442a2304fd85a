package rfc2217

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBits(t *testing.T) {
	assert.Equal(t, "CARRIER_DETECT DSR DELTA_DSR", DecodeBits(0b10100010, ModemStateBits))
	assert.Equal(t, "(none)", DecodeBits(0, ModemStateBits))
	assert.Equal(t, "(none)", DecodeBits(0, LineStateBits))
	assert.Equal(t, "DATA_READY", DecodeBits(0x01, LineStateBits))
	assert.Equal(t, "TIME_OUT", DecodeBits(0x80, LineStateBits))
}

func TestRawBytes(t *testing.T) {
	assert.Equal(t, "0x2c 0x00 0xff", RawBytes([]byte{0x2c, 0x00, 0xff}))
	assert.Equal(t, "", RawBytes(nil))
}

func TestSignatureRoundTrip(t *testing.T) {
	for _, sig := range []string{"", "ser2net", "Zähler Ø 1", "ÿþ\x01\x7f"} {
		for _, client := range []bool{true, false} {
			cmd := NewSignature(client, sig)
			decoded, err := DecodeAs(Signature, cmd.Encode())
			require.NoError(t, err)
			assert.Equal(t, sig, decoded.Signature())
			assert.Equal(t, !client, decoded.Server)
			assert.False(t, decoded.DecodeFailed())
		}
	}
}

func TestSignatureEncodesUnsupportedRunesAsQuestionMark(t *testing.T) {
	cmd := NewSignature(true, "a€b")
	assert.Equal(t, []byte{ComPortOption, 0, 'a', '?', 'b'}, cmd.Encode())
}

func TestSignatureRequest(t *testing.T) {
	assert.Equal(t, []byte{ComPortOption, 0}, NewSignatureRequest(true).Encode())
	assert.Equal(t, []byte{ComPortOption, 100}, NewSignatureRequest(false).Encode())
	assert.Equal(t, "SIGNATURE REQUEST", NewSignatureRequest(true).String())
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeAs(Signature, []byte{ComPortOption, byte(SetBaudRate), 0, 0, 0x25, 0x80})
	assert.ErrorIs(t, err, ErrWrongCommand)

	_, err = DecodeAs(Signature, []byte{24, 0})
	assert.ErrorIs(t, err, ErrWrongOption)

	_, err = Decode([]byte{ComPortOption, 99})
	assert.ErrorIs(t, err, ErrWrongCommand)

	_, err = Decode([]byte{ComPortOption, byte(SetBaudRate), 0, 0})
	assert.ErrorIs(t, err, ErrPayloadLength)

	_, err = Decode([]byte{ComPortOption, byte(FlowControlSuspend) + ServerOffset, 1})
	assert.ErrorIs(t, err, ErrPayloadLength)

	_, err = Decode([]byte{ComPortOption})
	assert.ErrorIs(t, err, ErrPayloadLength)
}

func TestSetBaudRate(t *testing.T) {
	cmd := NewSetBaudRate(true, 9600)
	assert.Equal(t, []byte{ComPortOption, 1, 0, 0, 0x25, 0x80}, cmd.Encode())

	decoded, err := Decode([]byte{ComPortOption, 101, 0, 0, 0x4b, 0x00})
	require.NoError(t, err)
	assert.True(t, decoded.Server)
	assert.Equal(t, uint32(19200), decoded.BaudRate())
	assert.Equal(t, "SET-BAUDRATE 19200", decoded.String())
}

func TestNotifyModemState(t *testing.T) {
	decoded, err := Decode([]byte{ComPortOption, byte(NotifyModemState) + ServerOffset, 0b10100010})
	require.NoError(t, err)
	assert.Equal(t, NotifyModemState, decoded.Tag)
	assert.Equal(t, "NOTIFY-MODEMSTATE CARRIER_DETECT DSR DELTA_DSR", decoded.String())
}

func TestNewByteCommand(t *testing.T) {
	cmd, err := NewByteCommand(PurgeData, true, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{ComPortOption, 12, 3}, cmd.Encode())

	_, err = NewByteCommand(SetBaudRate, true, 1)
	assert.ErrorIs(t, err, ErrWrongCommand)
}
