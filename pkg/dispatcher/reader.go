package dispatcher

import (
	"context"
	"encoding/binary"
	"sync"

	"replikv/pkg/backup"
	"replikv/pkg/metrics"
	"replikv/pkg/replicator"
	"replikv/pkg/store"
	"replikv/pkg/wire"
)

// ReaderDispatcher accepts GET, LAST_REPLICATION_ID, and SYNC.
// SET/DELETE are reader-forbidden. last_replica_id and the backup-apply
// during SYNC are guarded by mu so a concurrent metrics/housekeeping
// read never observes a torn update.
type ReaderDispatcher struct {
	jobs chan Job

	store  *store.Store
	backup *backup.FileBackup

	mu               sync.Mutex
	lastReplicaID    uint64
	hasLastReplicaID bool

	onFatal func(msg string, err error)
}

// NewReaderDispatcher wires a ReaderDispatcher. initialLastReplicaID and
// hasInitial seed last_replica_id from the --last-replica-id flag.
func NewReaderDispatcher(st *store.Store, bk *backup.FileBackup, initialLastReplicaID uint64, hasInitial bool, onFatal func(string, error)) *ReaderDispatcher {
	return &ReaderDispatcher{
		jobs:             make(chan Job, jobQueueCapacity),
		store:            st,
		backup:           bk,
		lastReplicaID:    initialLastReplicaID,
		hasLastReplicaID: hasInitial,
		onFatal:          onFatal,
	}
}

// Submit enqueues a Job for the dispatcher's single consumer goroutine.
func (d *ReaderDispatcher) Submit(job Job) { d.jobs <- job }

// Run processes Jobs in arrival order until ctx is cancelled.
func (d *ReaderDispatcher) Run(ctx context.Context) {
	for {
		select {
		case job := <-d.jobs:
			job.Reply <- d.handle(job.Request)
		case <-ctx.Done():
			return
		}
	}
}

func (d *ReaderDispatcher) handle(payload []byte) []byte {
	cmd := wire.ParseCommand(payload)
	switch cmd.Kind {
	case wire.CmdGet:
		return d.handleGet(cmd)
	case wire.CmdLastReplicationID:
		return d.handleLastReplicationID()
	case wire.CmdSync:
		return d.handleSync(cmd)
	case wire.CmdSet, wire.CmdDelete:
		kindLabel := "set"
		if cmd.Kind == wire.CmdDelete {
			kindLabel = "delete"
		}
		metrics.CommandsProcessed.WithLabelValues(kindLabel, "reader").Inc()
		metrics.ResponseTags.WithLabelValues("error_invalid_command").Inc()
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	default:
		metrics.ResponseTags.WithLabelValues("error_invalid_command").Inc()
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}
}

func (d *ReaderDispatcher) handleGet(cmd wire.Command) []byte {
	metrics.CommandsProcessed.WithLabelValues("get", "reader").Inc()
	value, ok := d.store.Get(cmd.Key)
	if !ok {
		metrics.ResponseTags.WithLabelValues("value_missing").Inc()
		return wire.EncodeResponse(wire.ValueMissing())
	}
	metrics.ResponseTags.WithLabelValues("value").Inc()
	return wire.EncodeResponse(wire.Value(value))
}

func (d *ReaderDispatcher) handleLastReplicationID() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics.CommandsProcessed.WithLabelValues("last_replication_id", "reader").Inc()
	if !d.hasLastReplicaID {
		metrics.ResponseTags.WithLabelValues("value_missing").Inc()
		return wire.EncodeResponse(wire.ValueMissing())
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, d.lastReplicaID)
	metrics.ResponseTags.WithLabelValues("value").Inc()
	return wire.EncodeResponse(wire.Value(buf))
}

func (d *ReaderDispatcher) handleSync(cmd wire.Command) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics.CommandsProcessed.WithLabelValues("sync", "reader").Inc()

	newLast, ok, err := replicator.ApplySync(cmd.Dump, d.store, d.backup, d.lastReplicaID, d.hasLastReplicaID)
	if err != nil {
		metrics.ResponseTags.WithLabelValues("error_invalid_command").Inc()
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}
	if ok {
		d.lastReplicaID = newLast
		d.hasLastReplicaID = true
	}

	if err := d.backup.Flush(); err != nil {
		d.onFatal("backup flush failed during sync", err)
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}

	metrics.ResponseTags.WithLabelValues("success").Inc()
	return wire.EncodeResponse(wire.Success())
}

// LastReplicaID reports the reader's current replication frontier, for
// housekeeping's summary sweep.
func (d *ReaderDispatcher) LastReplicaID() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReplicaID, d.hasLastReplicaID
}
