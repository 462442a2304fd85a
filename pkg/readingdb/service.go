// Package readingdb keeps the history of meter readings in SQLite.
// It is written by meter_collector only and can be read by any service.
package readingdb

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open reading db: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open reading db %s: %w", path, err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertReading stores r and keeps the latest table in step. A removed
// event drops the value from the latest table.
func (s *Store) InsertReading(r *Reading) error {
	switch r.Event {
	case EventAdded, EventChanged, EventRemoved:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, r.Event)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO readings "+
			"(timestamp, session_id, device, obis, event, value, unit, is_text, direction) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.Timestamp,
		r.SessionID,
		r.Device,
		r.Obis,
		r.Event,
		r.Value,
		r.Unit,
		r.IsText,
		r.Direction,
	)
	if err != nil {
		return err
	}

	if r.Event == EventRemoved {
		_, err = tx.Exec("DELETE FROM latest_readings WHERE device = ? AND obis = ?", r.Device, r.Obis)
	} else {
		_, err = tx.Exec(
			"INSERT INTO latest_readings (device, obis, timestamp, value, unit, is_text, direction) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?) "+
				"ON CONFLICT(device, obis) DO UPDATE SET "+
				"timestamp = excluded.timestamp, value = excluded.value, unit = excluded.unit, "+
				"is_text = excluded.is_text, direction = excluded.direction",
			r.Device,
			r.Obis,
			r.Timestamp,
			r.Value,
			r.Unit,
			r.IsText,
			r.Direction,
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertDeviceEvent(e *DeviceEvent) error {
	_, err := s.db.Exec(
		"INSERT INTO device_events (timestamp, device, kind, status, detail, message) "+
			"VALUES (?, ?, ?, ?, ?, ?)",
		e.Timestamp,
		e.Device,
		e.Kind,
		e.Status,
		e.Detail,
		e.Message,
	)
	return err
}

// Latest returns the current values of a device ordered by OBIS code.
func (s *Store) Latest(device string) ([]Reading, error) {
	rows, err := s.db.Query(
		"SELECT timestamp, device, obis, value, unit, is_text, direction "+
			"FROM latest_readings WHERE device = ? ORDER BY obis",
		device,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Timestamp, &r.Device, &r.Obis, &r.Value, &r.Unit, &r.IsText, &r.Direction); err != nil {
			return nil, err
		}
		r.Event = EventAdded
		out = append(out, r)
	}
	return out, rows.Err()
}

// History returns the events of one channel since the given time, oldest first.
func (s *Store) History(device, obis string, since time.Time) ([]Reading, error) {
	rows, err := s.db.Query(
		"SELECT timestamp, session_id, device, obis, event, value, unit, is_text, direction "+
			"FROM readings WHERE device = ? AND obis = ? AND timestamp >= ? ORDER BY timestamp, id",
		device, obis, since.UTC().Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		err := rows.Scan(&r.Timestamp, &r.SessionID, &r.Device, &r.Obis, &r.Event,
			&r.Value, &r.Unit, &r.IsText, &r.Direction)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeviceEvents returns the error and status events of a device, newest first.
func (s *Store) DeviceEvents(device string, limit int) ([]DeviceEvent, error) {
	rows, err := s.db.Query(
		"SELECT timestamp, device, kind, status, detail, message FROM device_events "+
			"WHERE device = ? ORDER BY timestamp DESC, id DESC LIMIT ?",
		device, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		if err := rows.Scan(&e.Timestamp, &e.Device, &e.Kind, &e.Status, &e.Detail, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SnapshotHour copies the latest numeric values into the hourly snapshots.
// Repeating it for the same hour keeps the first copy.
func (s *Store) SnapshotHour(hourStart int64) (int64, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO hourly_snapshots (device, obis, hour_start, value, unit) "+
			"SELECT device, obis, ?, value, unit FROM latest_readings WHERE is_text = 0",
		hourStart,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastSnapshotHour is the newest snapshot hour, ok is false without snapshots.
func (s *Store) LastSnapshotHour() (hourStart int64, ok bool, err error) {
	var last sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(hour_start) FROM hourly_snapshots").Scan(&last); err != nil {
		return 0, false, err
	}
	return last.Int64, last.Valid, nil
}

// Snapshots returns the hourly standings of one channel since the given time.
func (s *Store) Snapshots(device, obis string, since time.Time) ([]Snapshot, error) {
	rows, err := s.db.Query(
		"SELECT device, obis, hour_start, value, unit FROM hourly_snapshots "+
			"WHERE device = ? AND obis = ? AND hour_start >= ? ORDER BY hour_start",
		device, obis, since.UTC().Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.Device, &sn.Obis, &sn.HourStart, &sn.Value, &sn.Unit); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Prune deletes history older than cutoff. Latest values and snapshots are
// kept.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Unix()

	res, err := s.db.Exec("DELETE FROM readings WHERE timestamp < ?", ts)
	if err != nil {
		return 0, err
	}
	readings, _ := res.RowsAffected()

	res, err = s.db.Exec("DELETE FROM device_events WHERE timestamp < ?", ts)
	if err != nil {
		return readings, err
	}
	events, _ := res.RowsAffected()

	return readings + events, nil
}

// RetentionCutoff is the oldest timestamp kept for the given retention.
func RetentionCutoff(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, -days)
}
