// Package backup implements the crash-tolerant, sharded on-disk image
// of the store: a key-hash-routed set of shards, each a key-info index
// plus a raw values file with in-place reusable slots, split by size
// rather than merged, and rewritten atomically on every flush.
package backup

import (
	"fmt"
	"sync"

	"replikv/pkg/wire"
)

// FileBackup owns the shard registry and per-shard pending changesets
// for one data directory. It is driven by the dispatcher: every logged
// SET/DELETE is recorded, then Flush is called once per logged command
// to make the change durable.
type FileBackup struct {
	mu sync.Mutex

	dir             string
	shardBreakLimit int64
	registry        *Registry
	pending         map[string]*Changeset // filehash -> pending changes
}

// Open loads (or initializes) the shard registry under dir.
func Open(dir string, shardBreakLimit int64) (*FileBackup, error) {
	reg, err := loadRegistry(dir, shardBreakLimit)
	if err != nil {
		return nil, err
	}
	return &FileBackup{
		dir:             dir,
		shardBreakLimit: shardBreakLimit,
		registry:        reg,
		pending:         map[string]*Changeset{},
	}, nil
}

// Record observes a mutating command and accumulates it into the owning
// shard's pending changeset. Non-mutating commands are ignored.
func (b *FileBackup) Record(cmd wire.Command) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var key string
	switch cmd.Kind {
	case wire.CmdSet:
		key = cmd.Key
	case wire.CmdDelete:
		key = cmd.Key
	default:
		return
	}

	filehash := b.registry.shardFor(key)
	if filehash == "" {
		return
	}
	cs, ok := b.pending[filehash]
	if !ok {
		cs = newChangeset()
		b.pending[filehash] = cs
	}
	if cmd.Kind == wire.CmdSet {
		cs.recordSet(key, cmd.Value)
	} else {
		cs.recordDelete(key)
	}
}

// Flush applies every shard's pending changeset to disk, splitting any
// shard that grew past the break limit, and rewrites the registry.
func (b *FileBackup) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	for filehash, cs := range b.pending {
		if cs.empty() {
			delete(b.pending, filehash)
			continue
		}
		if err := b.flushShard(filehash, cs); err != nil {
			return err
		}
		delete(b.pending, filehash)
	}

	if err := b.registry.save(b.dir); err != nil {
		return err
	}
	return nil
}

func (b *FileBackup) flushShard(filehash string, cs *Changeset) error {
	meta, ok := b.registry.Files[filehash]
	if !ok {
		return fmt.Errorf("backup: flush: unknown shard %s", filehash)
	}

	s, err := loadShard(b.dir, filehash)
	if err != nil {
		return err
	}

	for key := range cs.Removals {
		s.applyRemoval(key)
	}
	for key, value := range cs.Updates {
		s.applyUpdate(key, value)
	}

	if err := s.save(b.dir); err != nil {
		return err
	}

	if s.usefulSize() >= b.shardBreakLimit {
		if err := b.splitShard(s, meta); err != nil {
			return err
		}
	}
	return nil
}

// splitShard replaces shard s with two fresh shards at double the
// modulus, unless doing so would leave one side empty: skip the split
// rather than loop forever on a single oversized value.
func (b *FileBackup) splitShard(s *shard, meta ShardMeta) error {
	newBase := meta.ModBase * 2
	loValue := meta.ModValue
	hiValue := meta.ModValue + meta.ModBase

	lo := &shard{keys: map[string]KeyInfo{}}
	hi := &shard{keys: map[string]KeyInfo{}}

	for key := range s.keys {
		value, _ := s.valueAt(key)
		if KeyHash(key)%newBase == loValue {
			lo.appendRightSized(key, value)
		} else {
			hi.appendRightSized(key, value)
		}
	}

	if len(lo.keys) == 0 || len(hi.keys) == 0 {
		return nil
	}

	loHash, err := randomFilehash()
	if err != nil {
		return err
	}
	hiHash, err := randomFilehash()
	if err != nil {
		return err
	}
	lo.filehash = loHash
	hi.filehash = hiHash

	if err := lo.save(b.dir); err != nil {
		return err
	}
	if err := hi.save(b.dir); err != nil {
		return err
	}

	s.remove(b.dir)
	delete(b.registry.Files, s.filehash)
	b.registry.Files[loHash] = ShardMeta{ModBase: newBase, ModValue: loValue}
	b.registry.Files[hiHash] = ShardMeta{ModBase: newBase, ModValue: hiValue}
	return nil
}

// Restore loads every shard's keys and values and returns the full
// key/value image to seed the in-memory Store at startup.
func (b *FileBackup) Restore() (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string][]byte{}
	for filehash := range b.registry.Files {
		s, err := loadShard(b.dir, filehash)
		if err != nil {
			return nil, err
		}
		for key := range s.keys {
			value, _ := s.valueAt(key)
			out[key] = value
		}
	}
	return out, nil
}

// ShardCount reports the number of shards currently in the registry, for
// housekeeping/metrics.
func (b *FileBackup) ShardCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registry.Files)
}

// UsefulSize sums the useful content size of every shard, for
// housekeeping's backup-size summary.
func (b *FileBackup) UsefulSize() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int64
	for filehash := range b.registry.Files {
		s, err := loadShard(b.dir, filehash)
		if err != nil {
			return 0, err
		}
		total += s.usefulSize()
	}
	return total, nil
}
