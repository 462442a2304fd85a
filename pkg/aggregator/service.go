// Package aggregator keeps hourly standings of every numeric channel and
// removes raw history once it is covered by them.
package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/readingdb"
)

// Store is the part of readingdb the aggregator needs.
type Store interface {
	SnapshotHour(hourStart int64) (int64, error)
	LastSnapshotHour() (int64, bool, error)
	Prune(cutoff time.Time) (int64, error)
}

var _ Store = (*readingdb.Store)(nil)

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// untilNextHour is the wait until the first second of the next hour.
func untilNextHour(now time.Time) time.Duration {
	next := time.Unix(roundToHourStart(now), 0).Add(time.Hour)
	return next.Sub(now)
}

// cleanupOldData removes raw data older than the retention if the snapshots
// reach that far.
func cleanupOldData(store Store, now time.Time, retentionDays int, log zerolog.Logger) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := readingdb.RetentionCutoff(now, retentionDays)

	lastHour, ok, err := store.LastSnapshotHour()
	if err != nil {
		return err
	}
	if !ok || lastHour < cutoff.Unix() {
		// We haven't aggregated enough data yet, don't clean up
		return nil
	}

	removed, err := store.Prune(cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("pruned old readings")
	}
	return nil
}

// AggregateAndCleanup snapshots the current hour and prunes old raw data.
func AggregateAndCleanup(store Store, now time.Time, retentionDays int, log zerolog.Logger) error {
	hourStart := roundToHourStart(now)
	n, err := store.SnapshotHour(hourStart)
	if err != nil {
		log.Error().Err(err).Msg("error creating hourly snapshot")
		return err
	}
	log.Debug().Int64("channels", n).Time("hour", time.Unix(hourStart, 0)).Msg("hourly snapshot")

	if err := cleanupOldData(store, now, retentionDays, log); err != nil {
		log.Error().Err(err).Msg("error cleaning up old data")
		return err
	}
	return nil
}

// Run aggregates once and then at the start of every hour until ctx is done.
func Run(ctx context.Context, store Store, retentionDays int, log zerolog.Logger) {
	for {
		// failures are logged and retried next hour
		_ = AggregateAndCleanup(store, time.Now(), retentionDays, log)

		select {
		case <-ctx.Done():
			return
		case <-time.After(untilNextHour(time.Now())):
		}
	}
}
