package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"replikv/pkg/backup"
	"replikv/pkg/replicationlog"
	"replikv/pkg/store"
	"replikv/pkg/wire"
)

func newTestWriterDispatcher(t *testing.T) (*WriterDispatcher, *store.Store, *replicationlog.Log) {
	t.Helper()
	dir := t.TempDir()
	st := store.New()
	bk, err := backup.Open(dir, 1<<20)
	require.NoError(t, err)
	log, err := replicationlog.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	var fatalErr error
	d := NewWriterDispatcher(st, bk, log, nil, func(msg string, err error) { fatalErr = err })
	_ = fatalErr
	return d, st, log
}

func submitAndAwait(t *testing.T, d Dispatcher, request []byte) wire.Response {
	t.Helper()
	reply := make(chan []byte, 1)
	d.Submit(Job{Request: request, Reply: reply})

	select {
	case payload := <-reply:
		resp, err := wire.DecodeResponse(payload)
		require.NoError(t, err)
		return resp
	case <-time.After(time.Second):
		t.Fatal("dispatcher never replied")
		return wire.Response{}
	}
}

func TestWriterAcceptsSetGetDelete(t *testing.T) {
	d, _, log := newTestWriterDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("SET foo bar"))
	require.Equal(t, wire.RespSuccess, resp.Tag)

	resp = submitAndAwait(t, d, []byte("GET foo"))
	require.Equal(t, wire.RespValue, resp.Tag)
	require.Equal(t, []byte("bar"), resp.Value)

	resp = submitAndAwait(t, d, []byte("DELETE foo"))
	require.Equal(t, wire.RespSuccess, resp.Tag)

	resp = submitAndAwait(t, d, []byte("GET foo"))
	require.Equal(t, wire.RespValueMissing, resp.Tag)

	count, err := log.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestWriterDeleteOfAbsentKeyReturnsValueMissingAndDoesNotLog(t *testing.T) {
	d, _, log := newTestWriterDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("DELETE missing"))
	require.Equal(t, wire.RespValueMissing, resp.Tag)

	count, err := log.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
}

func TestWriterRejectsLastReplicationIDAndSync(t *testing.T) {
	d, _, _ := newTestWriterDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("LAST_REPLICATION_ID"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)

	resp = submitAndAwait(t, d, []byte("SYNC garbage"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)
}

func TestWriterRejectsInvalidCommand(t *testing.T) {
	d, _, _ := newTestWriterDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("PING"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)
}
