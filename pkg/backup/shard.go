package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// KeyInfo locates one key's value slot within a shard's values file.
type KeyInfo struct {
	Pos         int64 `json:"pos"`
	ContentSize int64 `json:"content_size"`
	Capacity    int64 `json:"capacity"`
}

func keysFileName(filehash string) string {
	return fmt.Sprintf("__traf_keys_%s.db", filehash)
}

func valuesFileName(filehash string) string {
	return fmt.Sprintf("__traf_values_%s.db", filehash)
}

// shard is one loaded shard: its key index and the raw concatenated
// value bytes it indexes into.
type shard struct {
	filehash string
	keys     map[string]KeyInfo
	values   []byte
}

func loadShard(dir, filehash string) (*shard, error) {
	s := &shard{filehash: filehash, keys: map[string]KeyInfo{}}

	keysPath := filepath.Join(dir, keysFileName(filehash))
	if data, err := os.ReadFile(keysPath); err == nil {
		if err := json.Unmarshal(data, &s.keys); err != nil {
			return nil, fmt.Errorf("backup: parse keys file %s: %w", keysPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backup: read keys file %s: %w", keysPath, err)
	}

	valuesPath := filepath.Join(dir, valuesFileName(filehash))
	if data, err := os.ReadFile(valuesPath); err == nil {
		s.values = data
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backup: read values file %s: %w", valuesPath, err)
	}

	return s, nil
}

// save rewrites both the keys-info and values files wholly, via an
// atomic rename-based replace.
func (s *shard) save(dir string) error {
	keysData, err := json.Marshal(s.keys)
	if err != nil {
		return fmt.Errorf("backup: marshal keys for shard %s: %w", s.filehash, err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, keysFileName(s.filehash)), bytes.NewReader(keysData)); err != nil {
		return fmt.Errorf("backup: write keys file for shard %s: %w", s.filehash, err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, valuesFileName(s.filehash)), bytes.NewReader(s.values)); err != nil {
		return fmt.Errorf("backup: write values file for shard %s: %w", s.filehash, err)
	}
	return nil
}

// remove deletes both files backing this shard, used after a split
// migrates its keys into new shards.
func (s *shard) remove(dir string) {
	os.Remove(filepath.Join(dir, keysFileName(s.filehash)))
	os.Remove(filepath.Join(dir, valuesFileName(s.filehash)))
}

// applyUpdate writes bytes for key into the shard's in-memory values
// buffer, reusing the existing slot in place if it still fits, growing
// the buffer with a fresh double-sized slot otherwise.
func (s *shard) applyUpdate(key string, value []byte) {
	n := int64(len(value))
	if info, ok := s.keys[key]; ok && info.Capacity >= n {
		copy(s.values[info.Pos:info.Pos+n], value)
		info.ContentSize = n
		s.keys[key] = info
		return
	}

	pos := int64(len(s.values))
	capacity := 2 * n
	slot := make([]byte, capacity)
	copy(slot, value)
	s.values = append(s.values, slot...)
	s.keys[key] = KeyInfo{Pos: pos, ContentSize: n, Capacity: capacity}
}

func (s *shard) applyRemoval(key string) {
	delete(s.keys, key)
}

// appendRightSized appends value as a slot with capacity == content_size
// (no padding), used when migrating keys into a freshly split shard.
func (s *shard) appendRightSized(key string, value []byte) {
	n := int64(len(value))
	pos := int64(len(s.values))
	s.values = append(s.values, value...)
	s.keys[key] = KeyInfo{Pos: pos, ContentSize: n, Capacity: n}
}

// usefulSize is the largest pos+capacity over the shard's keys, or 0 if
// the shard is empty. It drives the shard-split decision.
func (s *shard) usefulSize() int64 {
	var max int64
	for _, info := range s.keys {
		if end := info.Pos + info.Capacity; end > max {
			max = end
		}
	}
	return max
}

// valueAt returns a copy of the content bytes for key.
func (s *shard) valueAt(key string) ([]byte, bool) {
	info, ok := s.keys[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, info.ContentSize)
	copy(out, s.values[info.Pos:info.Pos+info.ContentSize])
	return out, true
}
