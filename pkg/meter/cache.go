package meter

import (
	"sort"
	"sync/atomic"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

type EventKind uint8

const (
	EventAdded EventKind = iota
	EventChanged
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is one difference between two consecutive reading sets.
type Event struct {
	Kind  EventKind
	Value types.MeterValue
}

// Cache holds the readings of the last successful cycle. Apply must only be
// called by one goroutine at a time, readers may call Get and Values from
// anywhere.
type Cache struct {
	current atomic.Pointer[types.ReadingSet]
}

func NewCache() *Cache {
	c := &Cache{}
	empty := types.ReadingSet{}
	c.current.Store(&empty)
	return c
}

// Apply replaces the cached set and returns what changed, ordered by OBIS
// code: added and changed values first, removed values last. An unchanged
// value yields no event.
func (c *Cache) Apply(next types.ReadingSet) []Event {
	prev := *c.current.Load()
	var events []Event

	for _, code := range sortedCodes(next) {
		v := next[code]
		old, ok := prev[code]
		switch {
		case !ok:
			events = append(events, Event{Kind: EventAdded, Value: v})
		case !old.Equal(v):
			events = append(events, Event{Kind: EventChanged, Value: v})
		}
	}
	for _, code := range sortedCodes(prev) {
		if _, ok := next[code]; !ok {
			events = append(events, Event{Kind: EventRemoved, Value: prev[code]})
		}
	}

	snapshot := make(types.ReadingSet, len(next))
	for k, v := range next {
		snapshot[k] = v
	}
	c.current.Store(&snapshot)
	return events
}

// Get looks up the exact code first, then the first cached code matching it
// with wildcards.
func (c *Cache) Get(code obis.Code) (types.MeterValue, bool) {
	set := *c.current.Load()
	if v, ok := set[code]; ok {
		return v, true
	}
	for _, k := range sortedCodes(set) {
		if k.Matches(code) {
			return set[k], true
		}
	}
	return types.MeterValue{}, false
}

// Values returns a snapshot ordered by OBIS code.
func (c *Cache) Values() []types.MeterValue {
	set := *c.current.Load()
	out := make([]types.MeterValue, 0, len(set))
	for _, code := range sortedCodes(set) {
		out = append(out, set[code])
	}
	return out
}

func (c *Cache) Len() int {
	return len(*c.current.Load())
}

func sortedCodes(set types.ReadingSet) []obis.Code {
	codes := make([]obis.Code, 0, len(set))
	for k := range set {
		codes = append(codes, k)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].String() < codes[j].String() })
	return codes
}
