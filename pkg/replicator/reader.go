package replicator

import (
	"encoding/binary"
	"fmt"

	"replikv/pkg/backup"
	"replikv/pkg/store"
	"replikv/pkg/wire"
)

const chunkHeaderWidth = 16

type chunk struct {
	seq     uint64
	command []byte
}

// parseChunks decomposes a SYNC dump into its chunk list, validating
// every header/body boundary up front so a malformed dump is rejected
// in full rather than partially applied.
func parseChunks(dump []byte) ([]chunk, error) {
	var chunks []chunk
	offset := 0
	for offset < len(dump) {
		if len(dump)-offset < chunkHeaderWidth {
			return nil, fmt.Errorf("replicator: truncated chunk header at offset %d", offset)
		}
		size := binary.BigEndian.Uint64(dump[offset : offset+8])
		seq := binary.BigEndian.Uint64(dump[offset+8 : offset+16])
		offset += chunkHeaderWidth

		if size > uint64(len(dump)-offset) {
			return nil, fmt.Errorf("replicator: truncated chunk body at offset %d", offset)
		}
		command := append([]byte(nil), dump[offset:offset+int(size)]...)
		offset += int(size)

		chunks = append(chunks, chunk{seq: seq, command: command})
	}
	return chunks, nil
}

// ApplySync parses dump as a strict chunk list and applies every chunk
// newer than the reader's current last_replica_id to st (and, for
// reader-side durability, records it into bk's pending changeset). It
// returns the resulting last_replica_id and whether one is now set.
func ApplySync(dump []byte, st *store.Store, bk *backup.FileBackup, lastReplicaID uint64, hasLastReplicaID bool) (newLastReplicaID uint64, ok bool, err error) {
	chunks, err := parseChunks(dump)
	if err != nil {
		return 0, false, err
	}

	effective := lastReplicaID
	hasEffective := hasLastReplicaID
	for _, c := range chunks {
		if hasEffective && c.seq <= effective {
			continue
		}

		cmd := wire.ParseCommand(c.command)
		switch cmd.Kind {
		case wire.CmdSet:
			st.Set(cmd.Key, cmd.Value)
		case wire.CmdDelete:
			st.Delete(cmd.Key)
		}
		if bk != nil {
			bk.Record(cmd)
		}

		effective = c.seq
		hasEffective = true
	}
	return effective, hasEffective, nil
}
