package backup

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

const (
	RegistryFileName = "__traf_shards.db"

	filehashAlphabet = "abcdefghijklmnopqrstuvwxyz"
	filehashLength   = 16
)

// ShardMeta identifies one shard's position in the hashed keyspace: a
// key with hash h belongs to this shard iff h % ModBase == ModValue.
type ShardMeta struct {
	ModBase  uint64 `json:"mod_base"`
	ModValue uint64 `json:"mod_value"`
}

// Registry is the JSON-persisted map of filehash to shard routing
// metadata, plus the shard-split threshold it was built with.
type Registry struct {
	Files           map[string]ShardMeta `json:"files"`
	ShardBreakLimit int64                `json:"shard_break_limit"`
}

func newRegistry(shardBreakLimit int64) *Registry {
	return &Registry{Files: map[string]ShardMeta{}, ShardBreakLimit: shardBreakLimit}
}

// loadRegistry reads the registry file, or builds a fresh single-shard
// registry (mod_base=1, mod_value=0) if none exists yet.
func loadRegistry(dir string, shardBreakLimit int64) (*Registry, error) {
	path := filepath.Join(dir, RegistryFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		reg := newRegistry(shardBreakLimit)
		filehash, ferr := randomFilehash()
		if ferr != nil {
			return nil, ferr
		}
		reg.Files[filehash] = ShardMeta{ModBase: 1, ModValue: 0}
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("backup: parse registry: %w", err)
	}
	if reg.Files == nil {
		reg.Files = map[string]ShardMeta{}
	}
	if shardBreakLimit > 0 {
		reg.ShardBreakLimit = shardBreakLimit
	}
	return &reg, nil
}

// save rewrites the registry file wholly via an atomic rename-based
// replace, so a crash mid-write never leaves a half-written registry.
func (r *Registry) save(dir string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("backup: marshal registry: %w", err)
	}
	path := filepath.Join(dir, RegistryFileName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("backup: write registry: %w", err)
	}
	return nil
}

// shardFor returns the filehash of the shard owning key, by its hash.
func (r *Registry) shardFor(key string) string {
	h := KeyHash(key)
	for filehash, meta := range r.Files {
		if meta.ModBase == 0 {
			continue
		}
		if h%meta.ModBase == meta.ModValue {
			return filehash
		}
	}
	return ""
}

func randomFilehash() (string, error) {
	buf := make([]byte, filehashLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("backup: generate filehash: %w", err)
	}
	out := make([]byte, filehashLength)
	for i, b := range buf {
		out[i] = filehashAlphabet[int(b)%len(filehashAlphabet)]
	}
	return string(out), nil
}
