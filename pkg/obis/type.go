// Package obis parses and matches OBIS identifiers (IEC 62056-61), the six group
// codes meters use to name a measured quantity.
package obis

import "errors"

var ErrMalformed = errors.New("malformed obis code")

// Code is an immutable OBIS identifier A-B:C.D.E*F.
// Groups A, B and F are optional, C, D and E are always set.
type Code struct {
	A, B, C, D, E, F byte

	HasA, HasB, HasF bool
}
