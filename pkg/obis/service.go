package obis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pattern matches an OBIS code in its textual form. Each group is 1-3 decimal digits.
const Pattern = `((\d{1,3})-(\d{1,3}):)?(\d{1,3})\.(\d{1,3})\.(\d{1,3})(\*(\d{1,3}))?`

const canonicalFormat = "%d-%d:%d.%d.%d*%d"

var (
	fullPattern = regexp.MustCompile(`^` + Pattern + `$`)
	findPattern = regexp.MustCompile(Pattern)
)

// Parse reads the textual form of an OBIS code. The whole string must be a code.
func Parse(text string) (Code, error) {
	m := fullPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Code{}, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	return fromSubmatch(text, m)
}

// Find locates the first OBIS code inside text and returns it together with the
// index right after the match.
func Find(text string) (Code, int, error) {
	loc := findPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Code{}, 0, fmt.Errorf("%w: no code in %q", ErrMalformed, text)
	}
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	code, err := fromSubmatch(text, m)
	return code, loc[1], err
}

// MustParse is Parse for package level constants.
func MustParse(text string) Code {
	c, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return c
}

// FromBytes builds a code from the 6 byte object name used by SML and DLMS.
func FromBytes(b []byte) (Code, error) {
	if len(b) != 6 {
		return Code{}, fmt.Errorf("%w: object name has %d bytes, want 6", ErrMalformed, len(b))
	}
	return Code{
		A: b[0], B: b[1], C: b[2], D: b[3], E: b[4], F: b[5],
		HasA: true, HasB: true, HasF: true,
	}, nil
}

func fromSubmatch(text string, m []string) (Code, error) {
	var (
		c   Code
		err error
	)
	group := func(s string) byte {
		if err != nil {
			return 0
		}
		v, perr := strconv.ParseUint(s, 10, 8)
		if perr != nil {
			err = fmt.Errorf("%w: group %q of %q exceeds a byte", ErrMalformed, s, text)
		}
		return byte(v)
	}

	if m[2] != "" {
		c.A, c.HasA = group(m[2]), true
		c.B, c.HasB = group(m[3]), true
	}
	c.C = group(m[4])
	c.D = group(m[5])
	c.E = group(m[6])
	if m[8] != "" {
		c.F, c.HasF = group(m[8]), true
	}
	if err != nil {
		return Code{}, err
	}
	return c, nil
}

// String renders the canonical form, missing optional groups render as 0.
func (c Code) String() string {
	return fmt.Sprintf(canonicalFormat, c.A, c.B, c.C, c.D, c.E, c.F)
}

// Short renders only the groups that are present, so Parse(c.Short()) == c.
func (c Code) Short() string {
	var sb strings.Builder
	if c.HasA || c.HasB {
		fmt.Fprintf(&sb, "%d-%d:", c.A, c.B)
	}
	fmt.Fprintf(&sb, "%d.%d.%d", c.C, c.D, c.E)
	if c.HasF {
		fmt.Fprintf(&sb, "*%d", c.F)
	}
	return sb.String()
}

// Matches compares the required groups exactly. An optional group that is
// missing on either side matches anything.
func (c Code) Matches(other Code) bool {
	return (!c.HasA || !other.HasA || c.A == other.A) &&
		(!c.HasB || !other.HasB || c.B == other.B) &&
		c.C == other.C && c.D == other.D && c.E == other.E &&
		(!c.HasF || !other.HasF || c.F == other.F)
}

// ChannelID derives the stable external key of the canonical form.
func (c Code) ChannelID() string {
	return channelIDReplacer.Replace(c.String())
}

var channelIDReplacer = strings.NewReplacer(".", "-", ":", "#", "*", "#")

// MarshalText implements encoding.TextMarshaler so codes can key JSON maps.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
