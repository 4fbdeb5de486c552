package replicator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"replikv/pkg/replicationlog"
	"replikv/pkg/wire"
)

// fakeReaderServer accepts exactly one connection, answers
// LAST_REPLICATION_ID with ValueMissing, then captures the SYNC payload
// it receives and replies Success.
type fakeReaderServer struct {
	ln       net.Listener
	received chan []byte
}

func startFakeReaderServer(t *testing.T) *fakeReaderServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeReaderServer{ln: ln, received: make(chan []byte, 1)}
	go s.serveOne(t)
	return s
}

func (s *fakeReaderServer) serveOne(t *testing.T) {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	// LAST_REPLICATION_ID
	if _, err := wire.ReadFrame(conn); err != nil {
		return
	}
	if err := wire.WriteFrame(conn, wire.EncodeResponse(wire.ValueMissing())); err != nil {
		return
	}

	// SYNC <tail>
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return
	}
	s.received <- append([]byte(nil), payload...)
	wire.WriteFrame(conn, wire.EncodeResponse(wire.Success()))
}

func TestWriterPushesFullTailOnFirstWake(t *testing.T) {
	dir := t.TempDir()
	log, err := replicationlog.Open(dir)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append([]byte("SET a 1"))
	require.NoError(t, err)
	_, err = log.Append([]byte("SET b 2"))
	require.NoError(t, err)

	server := startFakeReaderServer(t)
	defer server.ln.Close()

	w := NewWriter(log, []string{server.ln.Addr().String()}, nil)
	w.Start()
	defer w.Drain(nil)

	w.NotifyAppended()

	select {
	case payload := <-server.received:
		require.True(t, len(payload) > len("SYNC "))
		require.Equal(t, "SYNC ", string(payload[:5]))
	case <-time.After(2 * time.Second):
		t.Fatal("reader never received a SYNC push")
	}
}

type alwaysPressured struct{}

func (alwaysPressured) Pressured() bool { return true }

func TestWriterSkipsPushWhenSensorPressured(t *testing.T) {
	dir := t.TempDir()
	log, err := replicationlog.Open(dir)
	require.NoError(t, err)
	defer log.Close()
	_, err = log.Append([]byte("SET a 1"))
	require.NoError(t, err)

	server := startFakeReaderServer(t)
	defer server.ln.Close()

	w := NewWriter(log, []string{server.ln.Addr().String()}, alwaysPressured{})
	w.Start()
	defer w.Drain(nil)

	w.NotifyAppended()

	select {
	case <-server.received:
		t.Fatal("push should have been skipped due to sensor pressure")
	case <-time.After(200 * time.Millisecond):
	}
}
