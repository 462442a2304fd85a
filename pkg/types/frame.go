package types

import "github.com/NotCoffee418/obis_meter_reader/pkg/obis"

// Frame is the decoded content of one telegram or SML file.
type Frame struct {
	Values    []MeterValue
	Direction Direction
}

// ReadingSet holds the readings of one decode cycle keyed by OBIS code.
type ReadingSet map[obis.Code]MeterValue

// ReadingSetOf keys the frame's values. A later value for the same code wins.
func ReadingSetOf(values []MeterValue) ReadingSet {
	set := make(ReadingSet, len(values))
	for _, v := range values {
		set[v.Obis] = v
	}
	return set
}
