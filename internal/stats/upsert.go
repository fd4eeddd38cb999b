// Package stats counts how venue upserts split between new rows and
// updates to existing ones.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats accumulates insert and update counts. Safe for concurrent use.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
}

// NewUpsertStats creates a new UpsertStats instance.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// Record counts one upserted row.
func (s *UpsertStats) Record(inserted bool) {
	if inserted {
		s.inserted.Add(1)
	} else {
		s.updated.Add(1)
	}
}

// Merge adds the counts of other, typically a committed transaction's tally.
func (s *UpsertStats) Merge(other *UpsertStats) {
	s.inserted.Add(other.Inserted())
	s.updated.Add(other.Updated())
}

func (s *UpsertStats) Inserted() int64 { return s.inserted.Load() }

func (s *UpsertStats) Updated() int64 { return s.updated.Load() }

// Total returns inserts plus updates.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

// Reset resets all counters to zero.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
}

func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d total=%d", s.Inserted(), s.Updated(), s.Total())
}

// LogSummary logs the counts at INFO level.
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	logger.Info("upsert statistics",
		"entity", entity,
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"total", s.Total(),
	)
}
