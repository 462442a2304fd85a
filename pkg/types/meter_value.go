package types

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
)

// ErrInvalidFrame is returned by decoders for frames that cannot be parsed at all.
var ErrInvalidFrame = errors.New("invalid frame")

// Direction of the energy flow as reported by the meter status word.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	// DirectionPlus is import (consumption from the grid).
	DirectionPlus
	// DirectionMinus is export (feed-in to the grid).
	DirectionMinus
)

func (d Direction) String() string {
	switch d {
	case DirectionPlus:
		return "plus"
	case DirectionMinus:
		return "minus"
	default:
		return "unknown"
	}
}

// MeterValue is one decoded reading. Numbers are kept as the raw integer the
// meter sent plus a decimal scaler, text values carry no unit.
type MeterValue struct {
	Obis obis.Code

	Raw    int64
	Scaler int8

	Text   string
	IsText bool

	Unit      string
	Status    []byte
	Direction Direction
}

func NewNumericValue(code obis.Code, raw int64, scaler int8, unit string) MeterValue {
	return MeterValue{Obis: code, Raw: raw, Scaler: scaler, Unit: unit}
}

func NewTextValue(code obis.Code, text string) MeterValue {
	return MeterValue{Obis: code, Text: text, IsText: true}
}

// Value renders the reading as decimal text (or the text itself).
func (v MeterValue) Value() string {
	if v.IsText {
		return v.Text
	}
	return formatScaled(v.Raw, v.Scaler)
}

// Float returns the numeric reading. ok is false for text values.
func (v MeterValue) Float() (float64, bool) {
	if v.IsText {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Value(), 64)
	return f, err == nil
}

// Equal reports whether value and unit are the same. Status and direction are
// not part of the comparison.
func (v MeterValue) Equal(o MeterValue) bool {
	if v.IsText != o.IsText || v.Unit != o.Unit {
		return false
	}
	if v.IsText {
		return v.Text == o.Text
	}
	r1, s1 := normalize(v.Raw, v.Scaler)
	r2, s2 := normalize(o.Raw, o.Scaler)
	return r1 == r2 && s1 == s2
}

// normalize strips trailing decimal zeros so 10.0 and 10.00 compare equal.
func normalize(raw int64, scaler int8) (int64, int8) {
	if raw == 0 {
		return 0, 0
	}
	for raw%10 == 0 && scaler < 127 {
		raw /= 10
		scaler++
	}
	return raw, scaler
}

// Negated returns a copy with the sign of the number flipped.
func (v MeterValue) Negated() MeterValue {
	n := v
	n.Raw = -v.Raw
	n.Status = bytes.Clone(v.Status)
	return n
}

func (v MeterValue) String() string {
	if v.Unit == "" {
		return v.Obis.String() + "=" + v.Value()
	}
	return v.Obis.String() + "=" + v.Value() + " " + v.Unit
}

func formatScaled(raw int64, scaler int8) string {
	neg := raw < 0
	digits := strconv.FormatUint(absInt64(raw), 10)

	switch {
	case scaler > 0:
		if digits != "0" {
			digits += strings.Repeat("0", int(scaler))
		}
	case scaler < 0:
		frac := int(-scaler)
		if len(digits) <= frac {
			digits = strings.Repeat("0", frac-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-frac] + "." + digits[len(digits)-frac:]
	}
	if neg && strings.Trim(digits, "0.") != "" {
		return "-" + digits
	}
	return digits
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
