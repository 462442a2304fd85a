package sml

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sigurn/crc16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// tlv builders for hand made files

func octets(b ...byte) []byte { return append([]byte{byte(len(b) + 1)}, b...) }
func none() []byte           { return []byte{0x01} }
func u8(v uint8) []byte      { return []byte{0x62, v} }
func i8(v int8) []byte       { return []byte{0x52, byte(v)} }
func u16(v uint16) []byte    { return []byte{0x63, byte(v >> 8), byte(v)} }
func u32(v uint32) []byte {
	b := []byte{0x65, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[1:], v)
	return b
}
func i32(v int32) []byte {
	b := []byte{0x55, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[1:], uint32(v))
	return b
}
func u64(v uint64) []byte {
	b := []byte{0x69, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint64(b[1:], v)
	return b
}

func list(elems ...[]byte) []byte {
	out := []byte{0x70 | byte(len(elems))}
	for _, e := range elems {
		out = append(out, e...)
	}
	return out
}

func message(tx byte, tag uint16, body []byte) []byte {
	return list(octets(tx), u8(0), u8(0), list(u16(tag), body), u16(0), []byte{0x00})
}

func entry(code string, status []byte, unit uint8, scaler int8, value []byte) []byte {
	c := obis.MustParse(code)
	st := none()
	if status != nil {
		st = status
	}
	return list(octets(c.A, c.B, c.C, c.D, c.E, c.F), st, none(), u8(unit), i8(scaler), value, none())
}

// frame escapes and wraps payload. swap writes the CRC little endian.
func frame(payload []byte, swap bool) []byte {
	fill := (4 - len(payload)%4) % 4
	payload = append(append([]byte{}, payload...), make([]byte, fill)...)

	out := []byte{0x1b, 0x1b, 0x1b, 0x1b, 0x01, 0x01, 0x01, 0x01}
	for i := 0; i < len(payload); i += 4 {
		chunk := payload[i : i+4]
		if bytes.Equal(chunk, escape) {
			out = append(out, escape...)
		}
		out = append(out, chunk...)
	}
	out = append(out, 0x1b, 0x1b, 0x1b, 0x1b, 0x1a, byte(fill))
	crc := crc16.Checksum(out, crc16.MakeTable(crc16.CRC16_X_25))
	if swap {
		return binary.LittleEndian.AppendUint16(out, crc)
	}
	return binary.BigEndian.AppendUint16(out, crc)
}

func sampleFile() []byte {
	var payload []byte
	payload = append(payload, message(1, uint16(OpenResponse),
		list(none(), none(), octets('r', 'e', 'q'), octets(0x0a, 0x01, 0x49, 0x53, 0x4b), none(), none()))...)
	payload = append(payload, message(2, uint16(GetListResponse),
		list(none(), octets(0x0a, 0x01, 0x49, 0x53, 0x4b), none(), none(),
			list(
				entry("1-0:96.50.1*1", nil, 0, 0, octets('I', 'S', 'K')),
				entry("1-0:1.8.0*255", u8(0b10100010), 30, -1, u64(123456789)),
				entry("1-0:16.7.0*255", nil, 27, 0, i32(-1520)),
			),
			none(), none()))...)
	payload = append(payload, message(3, uint16(CloseResponse), list(none()))...)
	return frame(payload, false)
}

func TestDecodeGetListResponse(t *testing.T) {
	f, err := Decode(sampleFile())
	require.NoError(t, err)
	require.Len(t, f.Messages, 3)
	assert.Equal(t, OpenResponse, f.Messages[0].Tag)
	assert.Equal(t, GetListResponse, f.Messages[1].Tag)
	assert.Equal(t, CloseResponse, f.Messages[2].Tag)
	assert.Equal(t, []byte{2}, f.Messages[1].TransactionID)

	fr, summary := Values(f)
	assert.Equal(t, ListSummary{Lists: 1}, summary)
	require.Len(t, fr.Values, 3)
	assert.Equal(t, types.DirectionMinus, fr.Direction)

	assert.True(t, fr.Values[0].IsText)
	assert.Equal(t, "ISK", fr.Values[0].Text)

	energy := fr.Values[1]
	assert.Equal(t, obis.MustParse("1-0:1.8.0*255"), energy.Obis)
	assert.Equal(t, "12345678.9", energy.Value())
	assert.Equal(t, "Wh", energy.Unit)
	assert.Equal(t, []byte{0b10100010}, energy.Status)
	assert.Equal(t, types.DirectionMinus, energy.Direction)

	power := fr.Values[2]
	assert.Equal(t, "-1520", power.Value())
	assert.Equal(t, "W", power.Unit)
	assert.Nil(t, power.Status)
}

func listSummaryFile() []byte {
	var payload []byte
	payload = append(payload, message(1, uint16(GetListResponse),
		list(none(), none(), none(), none(), list(), none(), none()))...)
	payload = append(payload, message(2, uint16(GetListResponse), list(none()))...)
	return frame(payload, false)
}

func TestValuesReportsEmptyAndMalformedLists(t *testing.T) {
	f, err := Decode(listSummaryFile())
	require.NoError(t, err)

	fr, summary := Values(f)
	assert.Empty(t, fr.Values)
	assert.Equal(t, 1, summary.Lists)
	assert.Equal(t, 1, summary.Empty)
	require.Len(t, summary.Malformed, 1)
	assert.ErrorIs(t, summary.Malformed[0], ErrSyntax)
}

func TestReaderWarnsAboutEmptyAndMalformedLists(t *testing.T) {
	rw := &struct {
		*bytes.Buffer
	}{bytes.NewBuffer(listSummaryFile())}
	var logs bytes.Buffer

	fr, err := NewReader(rw, nil, zerolog.New(&logs).Level(zerolog.InfoLevel)).Read()
	require.NoError(t, err)
	assert.Empty(t, fr.Values)

	out := logs.String()
	assert.Contains(t, out, "skipping SML value list")
	assert.Contains(t, out, "malformed GetListResponse")
	assert.Contains(t, out, "no valid SML value list retrieved")
	assert.Contains(t, out, `"empty":1`)
}

func TestReaderQuietOnValidFile(t *testing.T) {
	rw := &struct {
		*bytes.Buffer
	}{bytes.NewBuffer(sampleFile())}
	var logs bytes.Buffer

	_, err := NewReader(rw, nil, zerolog.New(&logs).Level(zerolog.InfoLevel)).Read()
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "value list")
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, types.DirectionMinus, DirectionOf([]byte{0b10100010}))
	assert.Equal(t, types.DirectionPlus, DirectionOf([]byte{0b10000010}))
	assert.Equal(t, types.DirectionUnknown, DirectionOf(nil))
	assert.Equal(t, "minus", DirectionOf([]byte{0b10100010}).String())
	assert.Equal(t, "plus", DirectionOf([]byte{0b10000010}).String())
}

func TestDecodeAcceptsSwappedCRC(t *testing.T) {
	payload := message(1, uint16(CloseResponse), list(none()))
	_, err := Decode(frame(payload, true))
	assert.NoError(t, err)
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	raw := sampleFile()
	raw[12] ^= 0xff
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrCRC)
	assert.ErrorIs(t, err, types.ErrInvalidFrame)
}

func TestDecodeUnescapesPayload(t *testing.T) {
	// an octet string of 0x1b bytes puts an escape sequence on a word boundary
	payload := message(1, uint16(AttentionResponse),
		list(octets(0x01, 0x02), octets(0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b), none(), none()))
	raw := frame(payload, false)
	require.True(t, bytes.Contains(raw[8:len(raw)-8], append(escape, escape...)))

	f, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, f.Messages, 1)
	assert.Equal(t, bytes.Repeat([]byte{0x1b}, 11), f.Messages[0].Body.List[1].Bytes)
}

func TestDecodeSkipsGarbageBeforeStart(t *testing.T) {
	raw := append([]byte{0x00, 0x1b, 0x1b, 0x42, 0x1b, 0x1b, 0x1b, 0x1b, 0x1b}, sampleFile()...)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Len(t, f.Messages, 3)
}

func TestDecodeTruncated(t *testing.T) {
	raw := sampleFile()
	_, err := Decode(raw[:len(raw)-10])
	assert.Error(t, err)
}

func TestParseFileSyntaxError(t *testing.T) {
	_, err := ParseFile([]byte{0x76, 0x05})
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = ParseFile(list(octets(1)))
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestMultiByteLength(t *testing.T) {
	// octet string of 20 bytes: TL 0x81 0x06 (length 0x16 incl. two TL bytes)
	content := bytes.Repeat([]byte{'a'}, 20)
	p := &parser{b: append([]byte{0x81, 0x06}, content...)}
	n, err := p.node(0)
	require.NoError(t, err)
	assert.Equal(t, KindOctets, n.Kind)
	assert.Equal(t, content, n.Bytes)
}

func TestSignedIntegerSignExtension(t *testing.T) {
	p := &parser{b: []byte{0x53, 0xff, 0x38}}
	n, err := p.node(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), n.Int)
}

func TestReaderReadsConsecutiveFiles(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(sampleFile())
	stream.Write(sampleFile())
	rw := &struct {
		*bytes.Buffer
	}{&stream}

	r := NewReader(rw, nil, zerolog.Nop())
	for range 2 {
		fr, err := r.Read()
		require.NoError(t, err)
		assert.Len(t, fr.Values, 3)
	}
	_, err := r.Read()
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	f, err := Decode(sampleFile())
	require.NoError(t, err)

	var b strings.Builder
	Describe(&b, f)
	out := b.String()
	assert.Contains(t, out, "message 0: OpenResponse")
	assert.Contains(t, out, "message 1: GetListResponse")
	assert.Contains(t, out, "1-0:1.8.0*255 = 12345678.9 Wh status=a2 (minus)")
	assert.Contains(t, out, "message 2: CloseResponse")
}

func TestUnitSymbol(t *testing.T) {
	assert.Equal(t, "Wh", UnitSymbol(30))
	assert.Equal(t, "W", UnitSymbol(27))
	assert.Equal(t, "V", UnitSymbol(35))
	assert.Equal(t, "", UnitSymbol(255))
}
