// Package replicationlog implements the append-only EventLog and its
// parallel PointerIndex: the durable record of every mutating command a
// writer has accepted, in order, with byte offsets cheap enough to seek
// a replication push straight to the right tail.
package replicationlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	// EventLogFileName and PointerIndexFileName are fixed by the external
	// persisted-state interface.
	EventLogFileName     = "__traf_replicator_event_log.db"
	PointerIndexFileName = "__traf_replicator_event_log_pointers.db"

	pointerWidth = 8 // bytes per PointerIndex entry
	headerWidth  = 16 // u64 size + u64 seq
)

// Event is one persisted mutating command together with the sequence
// number it was assigned at append time.
type Event struct {
	Seq     uint64
	Command []byte
}

// Log is the durable EventLog + PointerIndex pair for a single writer.
// Append is guarded by a mutex; reads (PointerAt, TailFrom, Count) take a
// read lock so replication-push workers can run concurrently with each
// other, but never concurrently with an append.
type Log struct {
	mu          sync.RWMutex
	eventFile   *os.File
	pointerFile *os.File
	nextSeq     uint64
}

// Open opens (creating if necessary) the EventLog and PointerIndex files
// under dir and restores the in-memory next-sequence counter from the
// pointer file's length: pointer_file_size / 8 is authoritative.
func Open(dir string) (*Log, error) {
	eventFile, err := os.OpenFile(filepath.Join(dir, EventLogFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("replicationlog: open event log: %w", err)
	}
	pointerFile, err := os.OpenFile(filepath.Join(dir, PointerIndexFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("replicationlog: open pointer index: %w", err)
	}

	info, err := pointerFile.Stat()
	if err != nil {
		eventFile.Close()
		pointerFile.Close()
		return nil, fmt.Errorf("replicationlog: stat pointer index: %w", err)
	}

	return &Log{
		eventFile:   eventFile,
		pointerFile: pointerFile,
		nextSeq:     uint64(info.Size()) / pointerWidth,
	}, nil
}

// Close releases the underlying file handles.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.eventFile.Close()
	err2 := l.pointerFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Count returns the number of events currently durable, i.e.
// pointer_file_size / 8.
func (l *Log) Count() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countLocked()
}

func (l *Log) countLocked() (uint64, error) {
	info, err := l.pointerFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("replicationlog: stat pointer index: %w", err)
	}
	return uint64(info.Size()) / pointerWidth, nil
}

// Append assigns the next sequence number to command, appends it to the
// EventLog, fsyncs it, then appends and fsyncs the corresponding
// PointerIndex entry. The event bytes are always durable before the
// pointer that references them.
func (l *Log) Append(command []byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.nextSeq

	pos, err := l.eventFile.Seek(0, io.SeekEnd)
	if err != nil {
		return Event{}, fmt.Errorf("replicationlog: seek event log: %w", err)
	}

	header := make([]byte, headerWidth)
	binary.BigEndian.PutUint64(header[0:8], uint64(len(command)))
	binary.BigEndian.PutUint64(header[8:16], seq)

	if _, err := l.eventFile.Write(header); err != nil {
		return Event{}, fmt.Errorf("replicationlog: write event header: %w", err)
	}
	if len(command) > 0 {
		if _, err := l.eventFile.Write(command); err != nil {
			return Event{}, fmt.Errorf("replicationlog: write event body: %w", err)
		}
	}
	if err := l.eventFile.Sync(); err != nil {
		return Event{}, fmt.Errorf("replicationlog: sync event log: %w", err)
	}

	ptr := make([]byte, pointerWidth)
	binary.BigEndian.PutUint64(ptr, uint64(pos))
	if _, err := l.pointerFile.Seek(0, io.SeekEnd); err != nil {
		return Event{}, fmt.Errorf("replicationlog: seek pointer index: %w", err)
	}
	if _, err := l.pointerFile.Write(ptr); err != nil {
		return Event{}, fmt.Errorf("replicationlog: write pointer: %w", err)
	}
	if err := l.pointerFile.Sync(); err != nil {
		return Event{}, fmt.Errorf("replicationlog: sync pointer index: %w", err)
	}

	l.nextSeq++
	return Event{Seq: seq, Command: command}, nil
}

// PointerAt returns the byte offset at which event i begins in the
// EventLog.
func (l *Log) PointerAt(i uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pointerAtLocked(i)
}

func (l *Log) pointerAtLocked(i uint64) (uint64, error) {
	buf := make([]byte, pointerWidth)
	if _, err := l.pointerFile.ReadAt(buf, int64(i*pointerWidth)); err != nil {
		return 0, fmt.Errorf("replicationlog: read pointer %d: %w", i, err)
	}
	return binary.BigEndian.Uint64(buf), nil
}

// TailFrom returns the raw EventLog bytes from the start of event
// startSeq through the end of the log. The returned bytes are exactly
// the SYNC dump chunk format: they are the EventLog's own (size, seq,
// command) records concatenated, since the two formats are identical
// by design. If startSeq is at or beyond the current event count,
// TailFrom returns an empty, non-nil slice.
func (l *Log) TailFrom(startSeq uint64) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count, err := l.countLocked()
	if err != nil {
		return nil, err
	}
	if startSeq >= count {
		return []byte{}, nil
	}

	start, err := l.pointerAtLocked(startSeq)
	if err != nil {
		return nil, err
	}

	info, err := l.eventFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("replicationlog: stat event log: %w", err)
	}
	end := info.Size()
	if int64(start) > end {
		return nil, fmt.Errorf("replicationlog: pointer %d (%d) beyond event log size %d", startSeq, start, end)
	}

	buf := make([]byte, end-int64(start))
	if _, err := l.eventFile.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("replicationlog: read event tail: %w", err)
	}
	return buf, nil
}
