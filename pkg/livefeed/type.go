// Package livefeed publishes device events to websocket clients and lets a
// remote process follow them.
package livefeed

import (
	"encoding/json"
	"time"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

const (
	EventAdded   = "added"
	EventChanged = "changed"
	EventRemoved = "removed"
	EventError   = "error"
	EventStatus  = "status"
)

// Message is one feed entry. Value fields are empty for error and status
// events.
type Message struct {
	SessionID string        `json:"session_id"`
	Device    string        `json:"device"`
	Event     string        `json:"event"`
	Obis      string        `json:"obis,omitempty"`
	Value     string        `json:"value,omitempty"`
	Unit      string        `json:"unit,omitempty"`
	Text      bool          `json:"text,omitempty"`
	Direction string        `json:"direction,omitempty"`
	Error     string        `json:"error,omitempty"`
	Status    *meter.Status `json:"status,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func valueMessage(session, device, event string, v types.MeterValue) *Message {
	return &Message{
		SessionID: session,
		Device:    device,
		Event:     event,
		Obis:      v.Obis.String(),
		Value:     v.Value(),
		Unit:      v.Unit,
		Text:      v.IsText,
		Direction: v.Direction.String(),
		Timestamp: time.Now().UTC(),
	}
}

func (m *Message) ToJsonBytes() []byte {
	b, _ := json.Marshal(m)
	return b
}

// MessageFromJsonBytes returns nil for anything that is not a message.
func MessageFromJsonBytes(b []byte) *Message {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil || m.Event == "" {
		return nil
	}
	return &m
}
