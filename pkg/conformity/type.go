// Package conformity corrects the sign of decoded values from a status or value bit.
package conformity

import (
	"errors"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
)

var (
	ErrMalformed     = errors.New("negation property cannot be parsed")
	ErrUnknownPolicy = errors.New("unknown conformity policy")
)

// NegationSpec negates the value of Obis when bit BitPosition is set.
//
// The addressed byte is the first status byte when AppliesToStatus is set,
// otherwise the least significant byte of the raw two's complement integer.
// Bit 0 is the least significant bit of that byte.
type NegationSpec struct {
	BitPosition     uint8
	NegateBit       bool
	Obis            obis.Code
	AppliesToStatus bool
}

// Policy is a named set of negation specs.
type Policy struct {
	Name  string
	Specs []NegationSpec
}

const (
	PolicyNone   = "none"
	PolicyEdlFnn = "edl_fnn"
)
