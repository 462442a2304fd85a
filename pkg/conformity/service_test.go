package conformity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

func TestParseNegation(t *testing.T) {
	spec, err := ParseNegation("1-0:16.7.0:5:1:status")
	require.NoError(t, err)
	assert.Equal(t, NegationSpec{
		BitPosition:     5,
		NegateBit:       true,
		Obis:            obis.MustParse("1-0:16.7.0"),
		AppliesToStatus: true,
	}, spec)

	spec, err = ParseNegation("1.8.0:0:0")
	require.NoError(t, err)
	assert.False(t, spec.NegateBit)
	assert.False(t, spec.AppliesToStatus)
	assert.Equal(t, uint8(0), spec.BitPosition)
}

func TestParseNegationMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"1-0:16.7.0",
		"1-0:16.7.0:5",
		"1-0:16.7.0:x:1",
		"1-0:16.7.0:5:y",
		"1-0:16.7.0:8:1",
		"1-0:16.7.0:5:1:status:extra",
		"nothing:5:1",
	} {
		_, err := ParseNegation(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestNegationFormatRoundTrip(t *testing.T) {
	codes := []string{"1-0:16.7.0", "1.8.0", "1-0:2.8.0*255", "16.7.0*1"}
	for _, c := range codes {
		for pos := uint8(0); pos <= 7; pos++ {
			for _, neg := range []bool{true, false} {
				for _, status := range []bool{true, false} {
					spec := NegationSpec{BitPosition: pos, NegateBit: neg, Obis: obis.MustParse(c), AppliesToStatus: status}
					parsed, err := ParseNegation(spec.String())
					require.NoError(t, err, spec.String())
					assert.Equal(t, spec, parsed)
				}
			}
		}
	}
}

func TestApplyOnStatus(t *testing.T) {
	spec := NegationSpec{BitPosition: 5, NegateBit: true, Obis: obis.MustParse("1-0:16.7.0"), AppliesToStatus: true}

	export := types.NewNumericValue(obis.MustParse("1-0:16.7.0*255"), 1200, 0, "W")
	export.Status = []byte{0b10100010}
	got, ok := spec.Apply(export)
	assert.True(t, ok)
	assert.Equal(t, "-1200", got.Value())
	assert.Equal(t, "1200", export.Value(), "input must stay untouched")

	imp := export
	imp.Status = []byte{0b10000010}
	got, ok = spec.Apply(imp)
	assert.True(t, ok)
	assert.Equal(t, "1200", got.Value())
}

func TestApplyOnValueByte(t *testing.T) {
	spec := NegationSpec{BitPosition: 0, NegateBit: true, Obis: obis.MustParse("1.8.0")}

	got, ok := spec.Apply(types.NewNumericValue(obis.MustParse("1-0:1.8.0"), 0x0101, 0, "Wh"))
	assert.True(t, ok)
	assert.Equal(t, "-257", got.Value())

	got, ok = spec.Apply(types.NewNumericValue(obis.MustParse("1-0:1.8.0"), 0x0100, 0, "Wh"))
	assert.True(t, ok)
	assert.Equal(t, "256", got.Value())
}

func TestApplyNoOps(t *testing.T) {
	spec := NegationSpec{BitPosition: 5, NegateBit: true, Obis: obis.MustParse("16.7.0"), AppliesToStatus: true}

	other := types.NewNumericValue(obis.MustParse("1.8.0"), 10, 0, "Wh")
	other.Status = []byte{0xff}
	got, ok := spec.Apply(other)
	assert.True(t, ok)
	assert.Equal(t, other, got)

	noStatus := types.NewNumericValue(obis.MustParse("16.7.0"), 10, 0, "W")
	got, ok = spec.Apply(noStatus)
	assert.False(t, ok)
	assert.Equal(t, noStatus, got)

	text := types.NewTextValue(obis.MustParse("16.7.0"), "abc")
	valueSpec := NegationSpec{BitPosition: 1, NegateBit: true, Obis: obis.MustParse("16.7.0")}
	got, ok = valueSpec.Apply(text)
	assert.False(t, ok)
	assert.Equal(t, text, got)

	flagOff := NegationSpec{BitPosition: 5, NegateBit: false, Obis: obis.MustParse("16.7.0"), AppliesToStatus: true}
	set := noStatus
	set.Status = []byte{0xff}
	got, ok = flagOff.Apply(set)
	assert.True(t, ok)
	assert.Equal(t, "10", got.Value())
}

func TestPolicyApplyUsesParallelStatus(t *testing.T) {
	policy, err := PolicyByName("EDL_FNN")
	require.NoError(t, err)

	energy := types.NewNumericValue(obis.MustParse("1-0:1.8.0*255"), 5000, -1, "Wh")
	energy.Status = []byte{0b10100010}
	power := types.NewNumericValue(obis.MustParse("1-0:16.7.0*255"), 300, 0, "W")
	set := types.ReadingSetOf([]types.MeterValue{energy, power})

	out, skipped := policy.Apply(set)
	assert.Empty(t, skipped)
	assert.Equal(t, "-300", out[power.Obis].Value())
	assert.Equal(t, "500.0", out[energy.Obis].Value())
	assert.Equal(t, "300", set[power.Obis].Value())
}

func TestPolicyApplyReportsSkipped(t *testing.T) {
	policy, err := PolicyByName(PolicyEdlFnn)
	require.NoError(t, err)

	power := types.NewNumericValue(obis.MustParse("1-0:16.7.0"), 300, 0, "W")
	_, skipped := policy.Apply(types.ReadingSetOf([]types.MeterValue{power}))
	assert.Equal(t, []obis.Code{power.Obis}, skipped)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Empty(t, p.Specs)

	_, err = PolicyByName("strict")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	extra := NegationSpec{BitPosition: 1, Obis: obis.MustParse("2.8.0")}
	withExtra := p.With(extra)
	assert.Len(t, withExtra.Specs, 1)
	assert.Empty(t, p.Specs)
}
