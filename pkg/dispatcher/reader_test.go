package dispatcher

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"replikv/pkg/backup"
	"replikv/pkg/store"
	"replikv/pkg/wire"
)

func newTestReaderDispatcher(t *testing.T, initial uint64, hasInitial bool) (*ReaderDispatcher, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st := store.New()
	bk, err := backup.Open(dir, 1<<20)
	require.NoError(t, err)

	d := NewReaderDispatcher(st, bk, initial, hasInitial, func(msg string, err error) {
		t.Fatalf("unexpected fatal: %s: %v", msg, err)
	})
	return d, st
}

func TestReaderRejectsSetAndDelete(t *testing.T) {
	d, _ := newTestReaderDispatcher(t, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("SET foo bar"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)

	resp = submitAndAwait(t, d, []byte("DELETE foo"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)
}

func TestReaderAllowsGet(t *testing.T) {
	d, st := newTestReaderDispatcher(t, 0, false)
	st.Set("foo", []byte("bar"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("GET foo"))
	require.Equal(t, wire.RespValue, resp.Tag)
	require.Equal(t, []byte("bar"), resp.Value)

	resp = submitAndAwait(t, d, []byte("GET missing"))
	require.Equal(t, wire.RespValueMissing, resp.Tag)
}

func TestReaderLastReplicationIDMissingThenSet(t *testing.T) {
	d, _ := newTestReaderDispatcher(t, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("LAST_REPLICATION_ID"))
	require.Equal(t, wire.RespValueMissing, resp.Tag)

	dump := encodeSyncDump(t, 5, "SET foo bar")
	resp = submitAndAwait(t, d, append([]byte("SYNC "), dump...))
	require.Equal(t, wire.RespSuccess, resp.Tag)

	resp = submitAndAwait(t, d, []byte("LAST_REPLICATION_ID"))
	require.Equal(t, wire.RespValue, resp.Tag)
	require.Len(t, resp.Value, 8)
	require.Equal(t, uint64(5), binary.BigEndian.Uint64(resp.Value))

	id, ok := d.LastReplicaID()
	require.True(t, ok)
	require.Equal(t, uint64(5), id)
}

func TestReaderSyncAppliesAndSkipsOldChunks(t *testing.T) {
	d, st := newTestReaderDispatcher(t, 5, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// seq 3 is at-or-below the seeded last_replica_id of 5, must be skipped.
	dump := append(encodeSyncDump(t, 3, "SET foo bar"), encodeSyncDump(t, 6, "SET baz qux")...)
	resp := submitAndAwait(t, d, append([]byte("SYNC "), dump...))
	require.Equal(t, wire.RespSuccess, resp.Tag)

	_, ok := st.Get("foo")
	require.False(t, ok)
	v, ok := st.Get("baz")
	require.True(t, ok)
	require.Equal(t, []byte("qux"), v)

	id, hasID := d.LastReplicaID()
	require.True(t, hasID)
	require.Equal(t, uint64(6), id)
}

func TestReaderRejectsMalformedSync(t *testing.T) {
	d, _ := newTestReaderDispatcher(t, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resp := submitAndAwait(t, d, []byte("SYNC \x00\x00\x00\x00\x00\x00\x00\x01"))
	require.Equal(t, wire.RespErrorInvalidCommand, resp.Tag)
}

// encodeSyncDump builds one chunk (length uint64 big-endian, seq uint64
// big-endian, command bytes) matching the replicator package's dump
// layout.
func encodeSyncDump(t *testing.T, seq uint64, command string) []byte {
	t.Helper()
	buf := make([]byte, 16+len(command))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(command)))
	binary.BigEndian.PutUint64(buf[8:16], seq)
	copy(buf[16:], command)
	return buf
}
