// Package housekeeping runs a cron-scheduled background sweep that logs
// a structured summary of store/shard/replication state. It has no
// effect on correctness; it exists purely to give an operator a
// periodic heartbeat of what the process is holding.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"replikv/pkg/logger"
	"replikv/pkg/metrics"
)

// Snapshot is whatever a single sweep needs to read to produce its
// summary line. The caller supplies a function that gathers one, since
// housekeeping has no business reaching into the backup/replicator
// internals directly.
type Snapshot struct {
	ShardCount       int
	BackupUsefulSize int64
	EventLogLength   uint64
	ReaderLastPush   map[string]time.Time
}

// Scheduler wakes on a cron schedule and logs a Snapshot it obtains from
// a caller-supplied collector function.
type Scheduler struct {
	cron    string
	collect func() Snapshot
	stopCh  chan struct{}
}

// New validates cron (a standard 5-field cron expression) and returns a
// Scheduler that, once started, calls collect at each tick.
func New(cron string, collect func() Snapshot) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("housekeeping: invalid cron expression %q", cron)
	}
	return &Scheduler{cron: cron, collect: collect, stopCh: make(chan struct{})}, nil
}

// Start runs the scheduler loop in the background until Drain is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("housekeeping_nexttick_failed", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
			s.sweep()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	snap := s.collect()
	metrics.ShardCount.Set(float64(snap.ShardCount))
	metrics.EventLogSize.Set(float64(snap.EventLogLength))
	logger.Info("housekeeping_sweep",
		"shard_count", snap.ShardCount,
		"backup_useful_bytes", snap.BackupUsefulSize,
		"event_log_length", snap.EventLogLength,
		"readers_tracked", len(snap.ReaderLastPush))
	for reader, last := range snap.ReaderLastPush {
		logger.Debug("housekeeping_reader_last_push", "reader", reader, "last_push", last.Format(time.RFC3339))
	}
}

// Drain stops the scheduler, satisfying shutdown.Drainer.
func (s *Scheduler) Drain(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.stopCh)
	return nil
}
