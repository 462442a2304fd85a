package sml

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/sigurn/crc16"

	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// maxFileSize bounds a single file, real meters send well below 1 KiB.
const maxFileSize = 64 * 1024

var (
	escape     = []byte{0x1b, 0x1b, 0x1b, 0x1b}
	startBlock = []byte{0x01, 0x01, 0x01, 0x01}
	x25Table   = crc16.MakeTable(crc16.CRC16_X_25)
)

// Reader pulls SML files from a byte stream.
type Reader struct {
	rw          io.ReadWriter
	r           *bufio.Reader
	initMessage []byte
	log         zerolog.Logger
}

// NewReader reads from rw. A non-empty initMessage is written before each
// file is awaited.
func NewReader(rw io.ReadWriter, initMessage []byte, log zerolog.Logger) *Reader {
	return &Reader{rw: rw, r: bufio.NewReader(rw), initMessage: initMessage, log: log}
}

// ReadFile waits for the next complete file and decodes it.
func (r *Reader) ReadFile() (File, error) {
	if len(r.initMessage) > 0 {
		if _, err := r.rw.Write(r.initMessage); err != nil {
			return File{}, fmt.Errorf("writing init message: %w", err)
		}
	}
	payload, err := readFrame(r.r)
	if err != nil {
		return File{}, err
	}
	return ParseFile(payload)
}

// Read returns the readings of the next file.
func (r *Reader) Read() (types.Frame, error) {
	f, err := r.ReadFile()
	if err != nil {
		return types.Frame{}, err
	}
	if r.log.GetLevel() <= zerolog.TraceLevel {
		var b bytes.Buffer
		Describe(&b, f)
		r.log.Trace().Msg("read SML file:\n" + b.String())
	}
	frame, summary := Values(f)
	logSummary(r.log, summary, len(f.Messages))
	return frame, nil
}

func logSummary(log zerolog.Logger, summary ListSummary, messages int) {
	for _, err := range summary.Malformed {
		log.Warn().Err(err).Msg("skipping SML value list")
	}
	if summary.Lists == 0 || summary.Empty > 0 {
		log.Warn().
			Int("messages", messages).
			Int("lists", summary.Lists).
			Int("empty", summary.Empty).
			Msg("no valid SML value list retrieved")
	}
}

// Decode unframes and parses one captured transport frame.
func Decode(b []byte) (File, error) {
	payload, err := readFrame(bufio.NewReader(bytes.NewReader(b)))
	if err != nil {
		return File{}, err
	}
	return ParseFile(payload)
}

// readFrame returns the unescaped payload between start and end sequence
// after checking the CRC16/X-25 of the whole frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	if err := seekStart(r); err != nil {
		return nil, err
	}

	raw := append(append([]byte{}, escape...), startBlock...)
	var payload []byte
	chunk := make([]byte, 4)
	for {
		if len(raw) > maxFileSize {
			return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrFraming, maxFileSize)
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("reading sml frame: %w", err)
		}
		raw = append(raw, chunk...)
		if !bytes.Equal(chunk, escape) {
			payload = append(payload, chunk...)
			continue
		}

		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("reading sml escape: %w", err)
		}
		raw = append(raw, chunk...)
		switch {
		case bytes.Equal(chunk, escape):
			payload = append(payload, escape...)
		case bytes.Equal(chunk, startBlock):
			// a new file begins, drop what we have
			raw = append(append(raw[:0], escape...), startBlock...)
			payload = payload[:0]
		case chunk[0] == 0x1a:
			fill := int(chunk[1])
			if fill > 3 || fill > len(payload) {
				return nil, fmt.Errorf("%w: bad fill count %d", ErrFraming, fill)
			}
			if err := checkCRC(raw); err != nil {
				return nil, err
			}
			return payload[:len(payload)-fill], nil
		default:
			return nil, fmt.Errorf("%w: unknown escape 0x%x", ErrFraming, chunk)
		}
	}
}

func seekStart(r *bufio.Reader) error {
	want := append(append([]byte{}, escape...), startBlock...)
	matched := 0
	for matched < len(want) {
		c, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("waiting for sml start: %w", err)
		}
		switch {
		case c == want[matched]:
			matched++
		case c == 0x1b && matched == 4:
			// more than four escape bytes, keep the last four
			matched = 4
		case c == 0x1b:
			matched = 1
		default:
			matched = 0
		}
	}
	return nil
}

// checkCRC accepts the checksum in either byte order, meters disagree.
func checkCRC(raw []byte) error {
	n := len(raw)
	calc := crc16.Checksum(raw[:n-2], x25Table)
	if calc == binary.BigEndian.Uint16(raw[n-2:]) || calc == binary.LittleEndian.Uint16(raw[n-2:]) {
		return nil
	}
	return fmt.Errorf("%w: frame 0x%04x, computed 0x%04x", ErrCRC, binary.BigEndian.Uint16(raw[n-2:]), calc)
}
