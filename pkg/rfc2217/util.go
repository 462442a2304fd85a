package rfc2217

import (
	"fmt"
	"strings"
)

// DecodeBits lists the names of the bits set in value, most significant bit
// first, or "(none)".
func DecodeBits(value byte, names [8]string) string {
	set := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		if value&(1<<(7-i)) != 0 {
			set = append(set, names[i])
		}
	}
	if len(set) == 0 {
		return "(none)"
	}
	return strings.Join(set, " ")
}

// RawBytes dumps b as space separated 0x.. tokens.
func RawBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("0x%02x", v)
	}
	return strings.Join(parts, " ")
}
