package replicator

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"replikv/pkg/logger"
	"replikv/pkg/metrics"
	"replikv/pkg/replicationlog"
	"replikv/pkg/wire"
)

const dialTimeout = 5 * time.Second

// Writer owns one push worker per configured reader address. Call
// NotifyAppended after every successful logged write to wake every
// worker; a worker already mid-pass coalesces the wakeup into a single
// follow-up pass instead of queuing duplicates.
type Writer struct {
	workers []*readerWorker
}

// NewWriter builds (but does not start) a push worker for every reader
// address. sensor may be nil, meaning pressure is never signalled.
func NewWriter(log *replicationlog.Log, readers []string, sensor Pressured) *Writer {
	w := &Writer{}
	for _, addr := range readers {
		w.workers = append(w.workers, &readerWorker{
			addr:   addr,
			log:    log,
			sensor: sensor,
			wake:   make(chan struct{}, 1),
			stop:   make(chan struct{}),
			dial:   func(addr string) (net.Conn, error) { return net.DialTimeout("tcp", addr, dialTimeout) },
		})
	}
	return w
}

// Start launches every reader's push worker goroutine.
func (w *Writer) Start() {
	for _, rw := range w.workers {
		go rw.run()
	}
}

// NotifyAppended wakes every reader worker with a non-blocking send; a
// worker already busy or already woken simply coalesces the signal.
func (w *Writer) NotifyAppended() {
	for _, rw := range w.workers {
		select {
		case rw.wake <- struct{}{}:
		default:
		}
	}
}

// Drain stops every worker, satisfying shutdown.Drainer.
func (w *Writer) Drain(ctx context.Context) error {
	for _, rw := range w.workers {
		close(rw.stop)
	}
	return nil
}

type readerWorker struct {
	addr   string
	log    *replicationlog.Log
	sensor Pressured
	wake   chan struct{}
	stop   chan struct{}
	dial   func(addr string) (net.Conn, error)
}

func (rw *readerWorker) run() {
	for {
		select {
		case <-rw.wake:
			rw.pushOnce()
		case <-rw.stop:
			return
		}
	}
}

func (rw *readerWorker) pushOnce() {
	if rw.sensor != nil && rw.sensor.Pressured() {
		logger.Debug("replication_push_skipped", "reader", rw.addr, "reason", "sensor_pressure")
		return
	}

	metrics.ReplicationPushesAttempted.WithLabelValues(rw.addr).Inc()

	conn, err := rw.dial(rw.addr)
	if err != nil {
		logger.Warn("replication_dial_failed", "reader", rw.addr, "error", err)
		metrics.ReplicationPushesFailed.WithLabelValues(rw.addr).Inc()
		return
	}
	defer conn.Close()

	reportedID, ok, err := requestLastReplicationID(conn)
	if err != nil {
		logger.Warn("replication_last_id_request_failed", "reader", rw.addr, "error", err)
		metrics.ReplicationPushesFailed.WithLabelValues(rw.addr).Inc()
		return
	}

	var start uint64
	if ok {
		start = reportedID + 1
	}

	tail, err := rw.log.TailFrom(start)
	if err != nil {
		logger.Warn("replication_tail_read_failed", "reader", rw.addr, "start", start, "error", err)
		metrics.ReplicationPushesFailed.WithLabelValues(rw.addr).Inc()
		return
	}
	if len(tail) == 0 {
		metrics.ReplicationPushesSucceeded.WithLabelValues(rw.addr).Inc()
		return
	}

	if err := sendSync(conn, tail); err != nil {
		logger.Warn("replication_sync_send_failed", "reader", rw.addr, "error", err)
		metrics.ReplicationPushesFailed.WithLabelValues(rw.addr).Inc()
		return
	}
	metrics.ReplicationPushesSucceeded.WithLabelValues(rw.addr).Inc()
}

func requestLastReplicationID(conn net.Conn) (id uint64, ok bool, err error) {
	if err := wire.WriteFrame(conn, []byte("LAST_REPLICATION_ID")); err != nil {
		return 0, false, fmt.Errorf("replicator: send LAST_REPLICATION_ID: %w", err)
	}
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return 0, false, fmt.Errorf("replicator: read LAST_REPLICATION_ID response: %w", err)
	}
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return 0, false, fmt.Errorf("replicator: decode LAST_REPLICATION_ID response: %w", err)
	}
	switch resp.Tag {
	case wire.RespValue:
		if len(resp.Value) != 8 {
			return 0, false, fmt.Errorf("replicator: malformed last_replica_id value (%d bytes)", len(resp.Value))
		}
		return binary.BigEndian.Uint64(resp.Value), true, nil
	case wire.RespValueMissing:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("replicator: unexpected response tag %d for LAST_REPLICATION_ID", resp.Tag)
	}
}

func sendSync(conn net.Conn, tail []byte) error {
	payload := make([]byte, 0, len("SYNC ")+len(tail))
	payload = append(payload, "SYNC "...)
	payload = append(payload, tail...)

	if err := wire.WriteFrame(conn, payload); err != nil {
		return fmt.Errorf("replicator: send SYNC: %w", err)
	}
	respPayload, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("replicator: read SYNC response: %w", err)
	}
	resp, err := wire.DecodeResponse(respPayload)
	if err != nil {
		return fmt.Errorf("replicator: decode SYNC response: %w", err)
	}
	if resp.Tag != wire.RespSuccess {
		return fmt.Errorf("replicator: reader rejected SYNC with response tag %d", resp.Tag)
	}
	return nil
}
