package types

import (
	"fmt"
	"strings"
)

// ProtocolMode selects the decoder of a meter.
type ProtocolMode string

const (
	ModeA   ProtocolMode = "A"
	ModeB   ProtocolMode = "B"
	ModeC   ProtocolMode = "C"
	ModeD   ProtocolMode = "D"
	ModeSML ProtocolMode = "SML"
)

// ParseProtocolMode accepts the mode names case-insensitively. "ABC" is an alias of mode C.
func ParseProtocolMode(s string) (ProtocolMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return ModeA, nil
	case "B":
		return ModeB, nil
	case "C", "ABC":
		return ModeC, nil
	case "D":
		return ModeD, nil
	case "SML", "":
		return ModeSML, nil
	}
	return "", fmt.Errorf("unknown protocol mode %q", s)
}

// Polled reports whether frames have to be requested from the meter.
func (m ProtocolMode) Polled() bool {
	return m != ModeD
}
