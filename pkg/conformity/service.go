package conformity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// ParseNegation reads "<obis>:<bitPosition>:<0|1>[:status]".
func ParseNegation(text string) (NegationSpec, error) {
	code, end, err := obis.Find(text)
	if err != nil {
		return NegationSpec{}, fmt.Errorf("%w: %q: %w", ErrMalformed, text, err)
	}
	tail := strings.TrimPrefix(text[end:], ":")
	if tail == text[end:] {
		return NegationSpec{}, fmt.Errorf("%w: %q: missing bit position", ErrMalformed, text)
	}

	fields := strings.Split(tail, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return NegationSpec{}, fmt.Errorf("%w: %q: want <bit>:<flag>[:status]", ErrMalformed, text)
	}
	pos, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil || pos > 7 {
		return NegationSpec{}, fmt.Errorf("%w: %q: bit position must be 0-7", ErrMalformed, text)
	}
	flag, err := strconv.Atoi(fields[1])
	if err != nil {
		return NegationSpec{}, fmt.Errorf("%w: %q: negate flag is not a number", ErrMalformed, text)
	}

	return NegationSpec{
		BitPosition:     uint8(pos),
		NegateBit:       flag != 0,
		Obis:            code,
		AppliesToStatus: len(fields) == 3 && strings.EqualFold(fields[2], "status"),
	}, nil
}

// String formats the spec so that ParseNegation(s.String()) == s.
func (s NegationSpec) String() string {
	flag := 0
	if s.NegateBit {
		flag = 1
	}
	out := fmt.Sprintf("%s:%d:%d", s.Obis.Short(), s.BitPosition, flag)
	if s.AppliesToStatus {
		out += ":status"
	}
	return out
}

// Apply negates v when the spec targets its code and the addressed bit is set.
// ok is false when the spec targets v but no byte could be addressed; v is then
// returned unchanged. The input is never modified.
func (s NegationSpec) Apply(v types.MeterValue) (types.MeterValue, bool) {
	return s.ApplyWithStatus(v, v.Status)
}

// ApplyWithStatus is Apply with the status byte taken from a parallel status word.
func (s NegationSpec) ApplyWithStatus(v types.MeterValue, status []byte) (types.MeterValue, bool) {
	if !s.Obis.Matches(v.Obis) {
		return v, true
	}

	var b byte
	switch {
	case s.AppliesToStatus:
		if len(status) == 0 {
			return v, false
		}
		b = status[0]
	case v.IsText:
		return v, false
	default:
		b = byte(v.Raw)
	}

	if b>>s.BitPosition&0x01 == 1 && s.NegateBit {
		return v.Negated(), true
	}
	return v, true
}

// PolicyByName resolves a built-in policy. An empty name is "none".
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyNone:
		return Policy{Name: PolicyNone}, nil
	case PolicyEdlFnn:
		// FNN Lastenheft EDL: bit 5 of the status word flags feed-in.
		return Policy{Name: PolicyEdlFnn, Specs: []NegationSpec{{
			BitPosition:     5,
			NegateBit:       true,
			Obis:            obis.MustParse("1-0:16.7.0"),
			AppliesToStatus: true,
		}}}, nil
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// With returns a copy of the policy extended by specs.
func (p Policy) With(specs ...NegationSpec) Policy {
	out := Policy{Name: p.Name, Specs: make([]NegationSpec, 0, len(p.Specs)+len(specs))}
	out.Specs = append(out.Specs, p.Specs...)
	out.Specs = append(out.Specs, specs...)
	return out
}

// Apply runs every spec over the set and returns a new set. Status based specs
// fall back to the first status word of the set when the target carries none.
// skipped lists the codes a spec targeted but could not evaluate.
func (p Policy) Apply(set types.ReadingSet) (out types.ReadingSet, skipped []obis.Code) {
	out = make(types.ReadingSet, len(set))
	for k, v := range set {
		out[k] = v
	}
	if len(p.Specs) == 0 {
		return out, nil
	}

	parallel := firstStatus(set)
	for k, v := range out {
		for _, spec := range p.Specs {
			status := v.Status
			if len(status) == 0 {
				status = parallel
			}
			nv, ok := spec.ApplyWithStatus(v, status)
			if !ok {
				skipped = append(skipped, k)
				continue
			}
			v = nv
		}
		out[k] = v
	}
	return out, skipped
}

func firstStatus(set types.ReadingSet) []byte {
	var (
		best  []byte
		found obis.Code
	)
	// Map order is random, pick the lowest code for a stable result.
	for k, v := range set {
		if len(v.Status) == 0 {
			continue
		}
		if best == nil || k.String() < found.String() {
			best, found = v.Status, k
		}
	}
	return best
}
