// Package dispatcher implements the single-consumer command dispatcher
// that owns the Store, FileBackup, EventLog/Replicator, and (on a
// reader) the last_replica_id, enforcing writer/reader role semantics
// per command.
package dispatcher

import "context"

// jobQueueCapacity bounds the channel the TCP server loop submits Jobs
// on, per the core's fixed buffer size.
const jobQueueCapacity = 32

// Job is one request awaiting dispatch. Request is the raw command
// payload (the frame's contents, with the frame itself already
// stripped); Reply receives the encoded ResponseFrame payload.
type Job struct {
	Request []byte
	Reply   chan []byte
}

// Dispatcher is either a WriterDispatcher or a ReaderDispatcher: a
// single-consumer goroutine that serializes all command handling for
// one server role.
type Dispatcher interface {
	Submit(job Job)
	Run(ctx context.Context)
}
