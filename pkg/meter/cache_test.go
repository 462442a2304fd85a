package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

func kwh(code string, raw int64) types.MeterValue {
	return types.NewNumericValue(obis.MustParse(code), raw, 0, "kWh")
}

func TestCacheDiffAcrossCycles(t *testing.T) {
	k1, k2, k3 := kwh("1-0:1.8.0", 1), kwh("1-0:2.8.0", 2), kwh("1-0:1.7.0", 3)
	c := NewCache()

	events := c.Apply(types.ReadingSetOf([]types.MeterValue{k1, k2}))
	assert.ElementsMatch(t, []Event{
		{Kind: EventAdded, Value: k1},
		{Kind: EventAdded, Value: k2},
	}, events)

	events = c.Apply(types.ReadingSetOf([]types.MeterValue{k1, k3}))
	assert.ElementsMatch(t, []Event{
		{Kind: EventRemoved, Value: k2},
		{Kind: EventAdded, Value: k3},
	}, events)

	assert.Empty(t, c.Apply(types.ReadingSetOf([]types.MeterValue{k1, k3})))
}

func TestCacheChangedValue(t *testing.T) {
	c := NewCache()
	c.Apply(types.ReadingSetOf([]types.MeterValue{kwh("1.8.0", 10)}))

	events := c.Apply(types.ReadingSetOf([]types.MeterValue{kwh("1.8.0", 11)}))
	require.Len(t, events, 1)
	assert.Equal(t, EventChanged, events[0].Kind)
	assert.Equal(t, "11", events[0].Value.Value())

	// same number, different precision
	same := types.NewNumericValue(obis.MustParse("1.8.0"), 110, -1, "kWh")
	assert.Empty(t, c.Apply(types.ReadingSetOf([]types.MeterValue{same})))
}

func TestCacheEventOrder(t *testing.T) {
	c := NewCache()
	c.Apply(types.ReadingSetOf([]types.MeterValue{kwh("1.8.0", 1), kwh("2.8.0", 2)}))
	events := c.Apply(types.ReadingSetOf([]types.MeterValue{kwh("1.8.0", 5), kwh("1.7.0", 3)}))

	require.Len(t, events, 3)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, "1.7.0", events[0].Value.Obis.Short())
	assert.Equal(t, EventChanged, events[1].Kind)
	assert.Equal(t, EventRemoved, events[2].Kind)
}

func TestCacheGet(t *testing.T) {
	c := NewCache()
	c.Apply(types.ReadingSetOf([]types.MeterValue{kwh("1-0:1.8.0*255", 7)}))

	v, ok := c.Get(obis.MustParse("1-0:1.8.0*255"))
	require.True(t, ok)
	assert.Equal(t, "7", v.Value())

	v, ok = c.Get(obis.MustParse("1.8.0"))
	require.True(t, ok)
	assert.Equal(t, "7", v.Value())

	_, ok = c.Get(obis.MustParse("2.8.0"))
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCacheSnapshotIsolation(t *testing.T) {
	c := NewCache()
	set := types.ReadingSetOf([]types.MeterValue{kwh("1.8.0", 1)})
	c.Apply(set)
	delete(set, obis.MustParse("1.8.0"))

	assert.Len(t, c.Values(), 1)
}
