package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestParseCommandVariants(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    Command
	}{
		{"set", "SET foo bar", Command{Kind: CmdSet, Key: "foo", Value: []byte("bar")}},
		{"set empty value", "SET foo ", Command{Kind: CmdSet, Key: "foo", Value: []byte{}}},
		{"get", "GET foo", Command{Kind: CmdGet, Key: "foo"}},
		{"delete", "DELETE foo", Command{Kind: CmdDelete, Key: "foo"}},
		{"last replication id", "LAST_REPLICATION_ID", Command{Kind: CmdLastReplicationID}},
		{"sync", "SYNC abc", Command{Kind: CmdSync, Dump: []byte("abc")}},
		{"unknown verb", "PING foo", Command{Kind: CmdInvalid}},
		{"set no value delimiter", "SET foo", Command{Kind: CmdInvalid}},
		{"get empty key", "GET ", Command{Kind: CmdInvalid}},
		{"get no key at all", "GET", Command{Kind: CmdInvalid}},
		{"delete empty key", "DELETE ", Command{Kind: CmdInvalid}},
		{"set empty key", "SET  bar", Command{Kind: CmdInvalid}},
		{"garbage", "", Command{Kind: CmdInvalid}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseCommand([]byte(tc.payload))
			require.Equal(t, tc.want.Kind, got.Kind)
			if tc.want.Kind == CmdSet || tc.want.Kind == CmdGet || tc.want.Kind == CmdDelete {
				require.Equal(t, tc.want.Key, got.Key)
			}
			if tc.want.Kind == CmdSet {
				require.Equal(t, tc.want.Value, got.Value)
			}
			if tc.want.Kind == CmdSync {
				require.Equal(t, tc.want.Dump, got.Dump)
			}
		})
	}
}

func TestCommandSerializeRoundTrip(t *testing.T) {
	cases := []Command{
		{Kind: CmdSet, Key: "foo", Value: []byte("bar")},
		{Kind: CmdSet, Key: "foo", Value: []byte{}},
		{Kind: CmdGet, Key: "foo"},
		{Kind: CmdDelete, Key: "foo"},
	}

	for _, cmd := range cases {
		b, ok := cmd.Serialize()
		require.True(t, ok)
		got := ParseCommand(b)
		want := cmd
		if want.Kind != CmdSet {
			want.Value = nil
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCommandSerializeUnsupportedKinds(t *testing.T) {
	for _, kind := range []CommandKind{CmdLastReplicationID, CmdSync, CmdInvalid} {
		_, ok := Command{Kind: kind}.Serialize()
		require.False(t, ok)
	}
}
