package dispatcher

import (
	"context"

	"replikv/pkg/backup"
	"replikv/pkg/metrics"
	"replikv/pkg/replicationlog"
	"replikv/pkg/replicator"
	"replikv/pkg/store"
	"replikv/pkg/wire"
)

// WriterDispatcher accepts SET/DELETE/GET. A successful SET/DELETE is
// logged to the backup and the EventLog, then fans out a replication
// wakeup; LAST_REPLICATION_ID and SYNC are writer-forbidden.
type WriterDispatcher struct {
	jobs chan Job

	store      *store.Store
	backup     *backup.FileBackup
	log        *replicationlog.Log
	replicator *replicator.Writer

	onFatal func(msg string, err error)
}

// NewWriterDispatcher wires a WriterDispatcher over its components.
// replicator may be nil (no configured readers); onFatal is called for
// an event-log or backup I/O failure and is expected not to return
// (shutdown.Abort exits the process).
func NewWriterDispatcher(st *store.Store, bk *backup.FileBackup, log *replicationlog.Log, rep *replicator.Writer, onFatal func(string, error)) *WriterDispatcher {
	return &WriterDispatcher{
		jobs:       make(chan Job, jobQueueCapacity),
		store:      st,
		backup:     bk,
		log:        log,
		replicator: rep,
		onFatal:    onFatal,
	}
}

// Submit enqueues a Job for the dispatcher's single consumer goroutine.
func (d *WriterDispatcher) Submit(job Job) { d.jobs <- job }

// Run processes Jobs in arrival order until ctx is cancelled.
func (d *WriterDispatcher) Run(ctx context.Context) {
	for {
		select {
		case job := <-d.jobs:
			job.Reply <- d.handle(job.Request)
		case <-ctx.Done():
			return
		}
	}
}

func (d *WriterDispatcher) handle(payload []byte) []byte {
	cmd := wire.ParseCommand(payload)
	switch cmd.Kind {
	case wire.CmdSet, wire.CmdDelete:
		return d.handleMutate(cmd)
	case wire.CmdGet:
		return d.handleGet(cmd)
	default:
		// CmdLastReplicationID, CmdSync, and CmdInvalid are all
		// writer-forbidden or malformed; both get the same reply.
		metrics.ResponseTags.WithLabelValues("error_invalid_command").Inc()
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}
}

func (d *WriterDispatcher) handleGet(cmd wire.Command) []byte {
	metrics.CommandsProcessed.WithLabelValues("get", "writer").Inc()
	value, ok := d.store.Get(cmd.Key)
	if !ok {
		metrics.ResponseTags.WithLabelValues("value_missing").Inc()
		return wire.EncodeResponse(wire.ValueMissing())
	}
	metrics.ResponseTags.WithLabelValues("value").Inc()
	return wire.EncodeResponse(wire.Value(value))
}

func (d *WriterDispatcher) handleMutate(cmd wire.Command) []byte {
	kindLabel := "set"
	if cmd.Kind == wire.CmdDelete {
		kindLabel = "delete"
	}
	metrics.CommandsProcessed.WithLabelValues(kindLabel, "writer").Inc()

	if cmd.Kind == wire.CmdDelete {
		if !d.store.Delete(cmd.Key) {
			metrics.ResponseTags.WithLabelValues("value_missing").Inc()
			return wire.EncodeResponse(wire.ValueMissing())
		}
	} else {
		d.store.Set(cmd.Key, cmd.Value)
	}

	d.backup.Record(cmd)
	if err := d.backup.Flush(); err != nil {
		d.onFatal("backup flush failed", err)
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}

	reqBytes, _ := cmd.Serialize()
	if _, err := d.log.Append(reqBytes); err != nil {
		d.onFatal("event log append failed", err)
		return wire.EncodeResponse(wire.ErrorInvalidCommand())
	}

	if d.replicator != nil {
		d.replicator.NotifyAppended()
	}

	metrics.ResponseTags.WithLabelValues("success").Inc()
	return wire.EncodeResponse(wire.Success())
}
