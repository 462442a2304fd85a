package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/NotCoffee418/obis_meter_reader/pkg/conformity"
	"github.com/NotCoffee418/obis_meter_reader/pkg/iec62056"
	"github.com/NotCoffee418/obis_meter_reader/pkg/sml"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

type decodeOptions struct {
	hex        bool
	conformity string
	negate     []string
	trace      bool
}

// decodeCapture tries SML first and falls back to IEC 62056-21, then prints
// the values after the conformity policy.
func decodeCapture(w io.Writer, b []byte, opts decodeOptions) error {
	if opts.hex {
		raw, err := hex.DecodeString(strings.Join(strings.Fields(string(b)), ""))
		if err != nil {
			return fmt.Errorf("hex capture: %w", err)
		}
		b = raw
	}

	policy, err := conformity.PolicyByName(opts.conformity)
	if err != nil {
		return err
	}
	for _, text := range opts.negate {
		spec, err := conformity.ParseNegation(text)
		if err != nil {
			return err
		}
		policy = policy.With(spec)
	}

	var frame types.Frame
	f, smlErr := sml.Decode(b)
	if smlErr == nil {
		if opts.trace {
			sml.Describe(w, f)
		}
		var summary sml.ListSummary
		frame, summary = sml.Values(f)
		fmt.Fprintf(w, "format: SML, messages: %d, value lists: %d\n", len(f.Messages), summary.Lists)
		if summary.Empty > 0 {
			fmt.Fprintf(w, "empty value lists: %d\n", summary.Empty)
		}
		for _, err := range summary.Malformed {
			fmt.Fprintf(w, "skipped value list: %v\n", err)
		}
	} else {
		msg, iecErr := iec62056.ParseMessage(b)
		if iecErr != nil {
			return errors.Join(smlErr, iecErr)
		}
		frame = msg.Frame
		fmt.Fprintf(w, "format: IEC 62056-21, identification: %s\n", msg.Identification)
	}

	set, skipped := policy.Apply(types.ReadingSetOf(frame.Values))
	fmt.Fprintf(w, "direction: %s\n", frame.Direction)

	values := make([]types.MeterValue, 0, len(set))
	for _, v := range set {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Obis.String() < values[j].Obis.String() })
	for _, v := range values {
		fmt.Fprintln(w, v)
	}
	for _, code := range skipped {
		fmt.Fprintf(w, "conformity skipped %s: no status\n", code)
	}
	return nil
}
