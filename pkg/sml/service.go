package sml

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// directionBit of the first status byte is set while energy is exported
// (FNN Lastenheft EDL 7.1.2).
const directionBit = 5

// DirectionOf decodes the energy direction from status bytes.
func DirectionOf(status []byte) types.Direction {
	if len(status) == 0 {
		return types.DirectionUnknown
	}
	if status[0]>>directionBit&0x01 == 1 {
		return types.DirectionMinus
	}
	return types.DirectionPlus
}

// Entries returns the value list of a GetListResponse body.
func Entries(m Message) ([]ListEntry, error) {
	if m.Tag != GetListResponse {
		return nil, nil
	}
	if m.Body.Kind != KindList || len(m.Body.List) < 5 || m.Body.List[4].Kind != KindList {
		return nil, fmt.Errorf("%w: malformed GetListResponse", ErrSyntax)
	}

	entries := make([]ListEntry, 0, len(m.Body.List[4].List))
	for i, n := range m.Body.List[4].List {
		if n.Kind != KindList || len(n.List) != 7 {
			return nil, fmt.Errorf("%w: list entry %d is not a list of 7", ErrSyntax, i)
		}
		e := ListEntry{
			ObjName: n.List[0].Bytes,
			Unit:    uint8(n.List[3].Uint),
			Scaler:  int8(n.List[4].Int),
			Value:   n.List[5],
		}
		if n.List[1].Kind == KindUint || n.List[1].Kind == KindInt {
			e.Status = n.List[1].Bytes
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListSummary counts the GetListResponses seen by Values.
type ListSummary struct {
	Lists     int
	Empty     int
	Malformed []error
}

// Values extracts the readings of every GetListResponse in f. The direction
// of the frame is the one of the last entry carrying a status.
func Values(f File) (frame types.Frame, summary ListSummary) {
	for _, m := range f.Messages {
		if m.Tag != GetListResponse {
			continue
		}
		entries, err := Entries(m)
		if err != nil {
			summary.Malformed = append(summary.Malformed, err)
			continue
		}
		summary.Lists++
		if len(entries) == 0 {
			summary.Empty++
		}
		for _, e := range entries {
			v, ok := e.MeterValue()
			if !ok {
				continue
			}
			if v.Direction != types.DirectionUnknown {
				frame.Direction = v.Direction
			}
			frame.Values = append(frame.Values, v)
		}
	}
	return frame, summary
}

// MeterValue converts the entry. ok is false when the object name is not a
// six byte OBIS code.
func (e ListEntry) MeterValue() (types.MeterValue, bool) {
	code, err := obis.FromBytes(e.ObjName)
	if err != nil {
		return types.MeterValue{}, false
	}

	var v types.MeterValue
	switch e.Value.Kind {
	case KindInt:
		v = types.NewNumericValue(code, e.Value.Int, e.Scaler, UnitSymbol(e.Unit))
	case KindUint, KindBool:
		if e.Value.Uint > math.MaxInt64 {
			v = types.NewTextValue(code, strconv.FormatUint(e.Value.Uint, 10))
			break
		}
		v = types.NewNumericValue(code, int64(e.Value.Uint), e.Scaler, UnitSymbol(e.Unit))
	case KindOctets:
		v = types.NewTextValue(code, octetText(e.Value.Bytes))
	default:
		return types.MeterValue{}, false
	}
	v.Status = e.Status
	v.Direction = DirectionOf(e.Status)
	return v, true
}

// octetText renders printable strings as is and anything else as hex.
func octetText(b []byte) string {
	for _, c := range b {
		if c > unicode.MaxASCII || !unicode.IsPrint(rune(c)) {
			return hex.EncodeToString(b)
		}
	}
	return string(b)
}

// Describe writes a human readable trace of every message in f.
func Describe(w io.Writer, f File) {
	for i, m := range f.Messages {
		fmt.Fprintf(w, "message %d: %s group=%d transaction=%s\n", i, m.Tag, m.GroupNo, hex.EncodeToString(m.TransactionID))
		if m.Tag != GetListResponse {
			describeNode(w, m.Body, 1)
			continue
		}
		entries, err := Entries(m)
		if err != nil {
			fmt.Fprintf(w, "  %v\n", err)
			continue
		}
		if len(m.Body.List) > 1 {
			fmt.Fprintf(w, "  server id: %s\n", hex.EncodeToString(m.Body.List[1].Bytes))
		}
		for _, e := range entries {
			describeEntry(w, e)
		}
	}
}

func describeEntry(w io.Writer, e ListEntry) {
	v, ok := e.MeterValue()
	if !ok {
		fmt.Fprintf(w, "  objName=%s value=%s\n", hex.EncodeToString(e.ObjName), e.Value.Kind)
		return
	}
	line := fmt.Sprintf("  %s = %s", v.Obis, v.Value())
	if v.Unit != "" {
		line += " " + v.Unit
	}
	if len(e.Status) > 0 {
		line += fmt.Sprintf(" status=%s (%s)", hex.EncodeToString(e.Status), v.Direction)
	}
	fmt.Fprintln(w, line)
}

func describeNode(w io.Writer, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n.Kind {
	case KindList:
		fmt.Fprintf(w, "%slist(%d)\n", indent, len(n.List))
		for _, c := range n.List {
			describeNode(w, c, depth+1)
		}
	case KindOctets:
		fmt.Fprintf(w, "%s%s\n", indent, octetText(n.Bytes))
	case KindInt:
		fmt.Fprintf(w, "%s%d\n", indent, n.Int)
	case KindUint, KindBool:
		fmt.Fprintf(w, "%s%d\n", indent, n.Uint)
	default:
		fmt.Fprintf(w, "%s<%s>\n", indent, n.Kind)
	}
}
