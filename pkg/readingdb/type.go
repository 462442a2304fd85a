package readingdb

import "errors"

var ErrUnknownEvent = errors.New("unknown reading event")

const (
	EventAdded   = "added"
	EventChanged = "changed"
	EventRemoved = "removed"
)

// Reading is one value event of a device. Timestamps are unix seconds.
type Reading struct {
	Timestamp int64  `db:"timestamp"`
	SessionID string `db:"session_id"`
	Device    string `db:"device"`
	Obis      string `db:"obis"`
	Event     string `db:"event"`
	Value     string `db:"value"`
	Unit      string `db:"unit"`
	IsText    bool   `db:"is_text"`
	Direction string `db:"direction"`
}

// DeviceEvent is an error or a status transition of a device.
type DeviceEvent struct {
	Timestamp int64  `db:"timestamp"`
	Device    string `db:"device"`
	Kind      string `db:"kind"`
	Status    string `db:"status"`
	Detail    string `db:"detail"`
	Message   string `db:"message"`
}

// Snapshot is the standing of a numeric channel at the start of an hour.
type Snapshot struct {
	Device    string `db:"device"`
	Obis      string `db:"obis"`
	HourStart int64  `db:"hour_start"`
	Value     string `db:"value"`
	Unit      string `db:"unit"`
}
