package readingdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func reading(ts int64, event, value string) *Reading {
	return &Reading{
		Timestamp: ts,
		SessionID: "s1",
		Device:    "meter1",
		Obis:      "1-0:1.8.0*255",
		Event:     event,
		Value:     value,
		Unit:      "kWh",
		Direction: "plus",
	}
}

func TestInsertReadingTracksLatest(t *testing.T) {
	s, _ := openStore(t)

	require.NoError(t, s.InsertReading(reading(100, EventAdded, "1.0")))
	require.NoError(t, s.InsertReading(reading(130, EventChanged, "1.5")))

	latest, err := s.Latest("meter1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "1.5", latest[0].Value)
	assert.Equal(t, int64(130), latest[0].Timestamp)
	assert.Equal(t, "kWh", latest[0].Unit)

	require.NoError(t, s.InsertReading(reading(160, EventRemoved, "1.5")))
	latest, err = s.Latest("meter1")
	require.NoError(t, err)
	assert.Empty(t, latest)

	history, err := s.History("meter1", "1-0:1.8.0*255", time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{EventAdded, EventChanged, EventRemoved},
		[]string{history[0].Event, history[1].Event, history[2].Event})
	assert.Equal(t, "s1", history[0].SessionID)
}

func TestInsertReadingRejectsUnknownEvent(t *testing.T) {
	s, _ := openStore(t)
	err := s.InsertReading(reading(1, "bogus", ""))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTextReadingRoundTrip(t *testing.T) {
	s, _ := openStore(t)
	r := reading(5, EventAdded, "1ESY1160123456")
	r.Obis = "1-0:96.1.0*255"
	r.Unit = ""
	r.IsText = true
	require.NoError(t, s.InsertReading(r))

	latest, err := s.Latest("meter1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].IsText)
	assert.Equal(t, "1ESY1160123456", latest[0].Value)
}

func TestPruneKeepsLatest(t *testing.T) {
	s, _ := openStore(t)
	now := time.Unix(10_000_000, 0)
	old := now.AddDate(0, 0, -100).Unix()

	require.NoError(t, s.InsertReading(reading(old, EventAdded, "1.0")))
	require.NoError(t, s.InsertReading(reading(now.Unix(), EventAdded, "2.0")))
	require.NoError(t, s.InsertDeviceEvent(&DeviceEvent{Timestamp: old, Device: "meter1", Kind: "error", Message: "timeout"}))
	require.NoError(t, s.InsertDeviceEvent(&DeviceEvent{Timestamp: now.Unix(), Device: "meter1", Kind: "status", Status: "ONLINE"}))

	removed, err := s.Prune(RetentionCutoff(now, 90))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	history, err := s.History("meter1", "1-0:1.8.0*255", time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2.0", history[0].Value)

	latest, err := s.Latest("meter1")
	require.NoError(t, err)
	require.Len(t, latest, 1)

	events, err := s.DeviceEvents("meter1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ONLINE", events[0].Status)
}

func TestOpenIsRepeatable(t *testing.T) {
	s, path := openStore(t)
	require.NoError(t, s.InsertReading(reading(1, EventAdded, "1")))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	latest, err := again.Latest("meter1")
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestSnapshotHour(t *testing.T) {
	s, _ := openStore(t)

	_, ok, err := s.LastSnapshotHour()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.InsertReading(reading(100, EventAdded, "1.0")))
	text := reading(100, EventAdded, "ABC")
	text.Obis = "1-0:96.1.0*255"
	text.IsText = true
	require.NoError(t, s.InsertReading(text))

	n, err := s.SnapshotHour(3600)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.InsertReading(reading(200, EventChanged, "2.0")))
	n, err = s.SnapshotHour(3600)
	require.NoError(t, err)
	assert.Zero(t, n)

	last, ok, err := s.LastSnapshotHour()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3600), last)

	snaps, err := s.Snapshots("meter1", "1-0:1.8.0*255", time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "1.0", snaps[0].Value)
}
