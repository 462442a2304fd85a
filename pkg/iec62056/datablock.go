package iec62056

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// letter codes of value group C, IEC 62056-61
var letterGroups = strings.NewReplacer("C.", "96.", "F.", "97.", "L.", "98.", "P.", "99.")

// ParseDataBlock decodes the data lines of a readout or telegram. Lines whose
// address is not an OBIS code are skipped.
func ParseDataBlock(block string) ([]types.MeterValue, error) {
	var values []types.MeterValue
	scanner := bufio.NewScanner(strings.NewReader(block))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "/") {
			continue
		}
		if strings.HasPrefix(line, "!") {
			break
		}
		v, ok, err := parseDataLine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataBlock, err)
	}
	return values, nil
}

// parseDataLine handles address(value*unit)(value*unit)... The last group
// carrying a unit is the reading, else the first group.
func parseDataLine(line string) (types.MeterValue, bool, error) {
	open := strings.IndexByte(line, '(')
	if open <= 0 {
		return types.MeterValue{}, false, nil
	}
	address := letterGroups.Replace(line[:open] + ".")
	address = strings.TrimSuffix(address, ".")
	code, err := obis.Parse(address)
	if err != nil {
		return types.MeterValue{}, false, nil
	}

	groups, err := splitGroups(line[open:])
	if err != nil {
		return types.MeterValue{}, false, fmt.Errorf("%w: %q: %w", ErrDataBlock, line, err)
	}

	chosen := groups[0]
	for _, g := range groups {
		if strings.Contains(g, "*") {
			chosen = g
		}
	}
	text, unit, _ := strings.Cut(chosen, "*")
	if raw, scaler, ok := parseDecimal(text); ok {
		return types.NewNumericValue(code, raw, scaler, unit), true, nil
	}
	return types.NewTextValue(code, chosen), true, nil
}

func splitGroups(s string) ([]string, error) {
	var groups []string
	for len(s) > 0 {
		if s[0] != '(' {
			return nil, fmt.Errorf("expected '(' at %q", s)
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, fmt.Errorf("unterminated group %q", s)
		}
		groups = append(groups, s[1:end])
		s = s[end+1:]
	}
	return groups, nil
}

// parseDecimal turns "-0012.340" into (-12340, -3).
func parseDecimal(s string) (int64, int8, bool) {
	if s == "" {
		return 0, 0, false
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (frac == "" || strings.ContainsAny(frac, "+-")) {
		return 0, 0, false
	}
	if len(frac) > 18 {
		return 0, 0, false
	}
	digits := intPart + frac
	if digits == "" || digits == "-" || digits == "+" {
		return 0, 0, false
	}
	raw, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return raw, -int8(len(frac)), true
}

// BlockCheck is the XOR of every byte after STX up to and including ETX.
func BlockCheck(b []byte) byte {
	var bcc byte
	for _, c := range b {
		bcc ^= c
	}
	return bcc
}

// ParseMessage decodes a captured readout, either a mode A/B/C message
// (identification line, then STX block ETX BCC, the BCC is required) or a
// mode D telegram.
func ParseMessage(b []byte) (DataMessage, error) {
	var msg DataMessage
	start := bytes.IndexByte(b, '/')
	if start < 0 {
		return msg, ErrIdentification
	}
	lineEnd := bytes.IndexByte(b[start:], '\n')
	if lineEnd < 0 {
		return msg, ErrIdentification
	}
	id, err := ParseIdentification(string(b[start : start+lineEnd+1]))
	if err != nil {
		return msg, err
	}
	msg.Identification = id
	rest := b[start+lineEnd+1:]

	var block string
	if stx := bytes.IndexByte(rest, STX); stx >= 0 {
		etx := bytes.IndexByte(rest[stx:], ETX)
		if etx < 0 {
			return msg, fmt.Errorf("%w: missing ETX", ErrDataBlock)
		}
		etx += stx
		if etx+1 >= len(rest) {
			return msg, fmt.Errorf("%w: missing after ETX", ErrBCC)
		}
		if BlockCheck(rest[stx+1:etx+1]) != rest[etx+1] {
			return msg, ErrBCC
		}
		block = string(rest[stx+1 : etx])
	} else {
		telegram := string(b[start:])
		if err := CheckTelegramCRC(telegram); err != nil {
			return msg, err
		}
		block = telegram
	}

	values, err := ParseDataBlock(block)
	if err != nil {
		return msg, err
	}
	msg.Frame = types.Frame{Values: values}
	return msg, nil
}

// ParseIdentification parses "/XXXZ<ident>\r\n". An enhanced identification
// marker \W following Z is dropped.
func ParseIdentification(line string) (Identification, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 5 || line[0] != '/' {
		return Identification{}, fmt.Errorf("%w: %q", ErrIdentification, line)
	}
	ident := line[5:]
	if len(ident) >= 2 && ident[0] == '\\' {
		ident = ident[2:]
	}
	return Identification{
		Manufacturer: line[1:4],
		BaudChar:     line[4],
		Ident:        ident,
	}, nil
}
