package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:4567", cfg.Address)
	require.Equal(t, RoleReader, cfg.Role)
	require.Equal(t, int64(32), cfg.ShardBreakLimit)
	require.False(t, cfg.HasLastReplicaID)
	require.Empty(t, cfg.Readers)
}

func TestParseWriterWithReaders(t *testing.T) {
	cfg, err := Parse([]string{"--type", "writer", "--readers", "a:1,b:2 , ,c:3"})
	require.NoError(t, err)
	require.Equal(t, RoleWriter, cfg.Role)
	require.Equal(t, []string{"a:1", "b:2", "c:3"}, cfg.Readers)
}

func TestParseReaderWithLastReplicaID(t *testing.T) {
	cfg, err := Parse([]string{"--type", "reader", "--last-replica-id", "42"})
	require.NoError(t, err)
	require.True(t, cfg.HasLastReplicaID)
	require.Equal(t, uint64(42), cfg.LastReplicaID)
}

func TestParseRejectsBadRole(t *testing.T) {
	_, err := Parse([]string{"--type", "sideways"})
	require.Error(t, err)
}

func TestParseRejectsLastReplicaIDOnWriter(t *testing.T) {
	_, err := Parse([]string{"--type", "writer", "--last-replica-id", "1"})
	require.Error(t, err)
}

func TestParseRejectsReadersOnReader(t *testing.T) {
	_, err := Parse([]string{"--type", "reader", "--readers", "a:1"})
	require.Error(t, err)
}

func TestParseRejectsNonPositiveShardBreakLimit(t *testing.T) {
	_, err := Parse([]string{"--shard-break-limit", "0"})
	require.Error(t, err)
}

func TestParseRejectsBadLastReplicaID(t *testing.T) {
	_, err := Parse([]string{"--last-replica-id", "abc"})
	require.Error(t, err)
}
