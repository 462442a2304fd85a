// Package collector persists the live feed of a meter reader.
package collector

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/livefeed"
	"github.com/NotCoffee418/obis_meter_reader/pkg/readingdb"
)

type Collector struct {
	store *readingdb.Store
	log   zerolog.Logger
}

func New(store *readingdb.Store, log zerolog.Logger) *Collector {
	return &Collector{store: store, log: log}
}

// Handle stores one feed message. Storage errors are logged, the feed keeps
// going.
func (c *Collector) Handle(m *livefeed.Message) {
	if err := c.Store(m); err != nil {
		c.log.Error().Err(err).Str("device", m.Device).Str("event", m.Event).Msg("failed to store feed message")
	}
}

func (c *Collector) Store(m *livefeed.Message) error {
	ts := m.Timestamp.UTC().Unix()
	switch m.Event {
	case livefeed.EventAdded, livefeed.EventChanged, livefeed.EventRemoved:
		return c.store.InsertReading(&readingdb.Reading{
			Timestamp: ts,
			SessionID: m.SessionID,
			Device:    m.Device,
			Obis:      m.Obis,
			Event:     m.Event,
			Value:     m.Value,
			Unit:      m.Unit,
			IsText:    m.Text,
			Direction: m.Direction,
		})
	case livefeed.EventError:
		return c.store.InsertDeviceEvent(&readingdb.DeviceEvent{
			Timestamp: ts,
			Device:    m.Device,
			Kind:      m.Event,
			Message:   m.Error,
		})
	case livefeed.EventStatus:
		e := &readingdb.DeviceEvent{Timestamp: ts, Device: m.Device, Kind: m.Event}
		if m.Status != nil {
			e.Status = m.Status.Kind.String()
			e.Detail = m.Status.Detail.String()
			e.Message = m.Status.Message
		}
		return c.store.InsertDeviceEvent(e)
	}
	return fmt.Errorf("%w: %q", readingdb.ErrUnknownEvent, m.Event)
}
