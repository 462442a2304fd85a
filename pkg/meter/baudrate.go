package meter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

const BaudRateAuto = "auto"

var standardBaudRates = []uint{300, 600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// ParseBaudRate accepts "auto" (returned as 0) or one of the standard rates.
func ParseBaudRate(s string) (uint, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, BaudRateAuto) {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: baud rate %q", ErrBadConfig, s)
	}
	for _, r := range standardBaudRates {
		if uint(n) == r {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported baud rate %d", ErrBadConfig, n)
}

// AutoBaudRate is the initial rate of a mode when none is configured:
// IEC 62056-21 starts at 300 baud, mode D meters push at 2400, SML at 9600.
func AutoBaudRate(mode types.ProtocolMode) uint {
	switch mode {
	case types.ModeA, types.ModeB, types.ModeC:
		return 300
	case types.ModeD:
		return 2400
	}
	return 9600
}
