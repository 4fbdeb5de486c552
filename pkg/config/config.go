// Package config resolves the server binary's flag set into a
// validated Config. Flags take precedence; REPLIKV_* environment
// variables fill in any flag not given on the command line, the same layered
// order the rest of the pack uses for its own flag/env/default resolution.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Role is the server's replication role, fixed for the lifetime of the
// process.
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// Config is the fully resolved server configuration.
type Config struct {
	Address           string
	Role              Role
	LastReplicaID     uint64
	HasLastReplicaID  bool
	Readers           []string
	BackupDir         string
	ShardBreakLimit   int64
	MetricsAddress    string
	HousekeepingCron  string
	LogLevel          string
}

// Parse builds a Config from the given args (typically os.Args[1:]),
// falling back to REPLIKV_* environment variables, then to defaults.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("replikv", flag.ContinueOnError)

	address := fs.String("address", envOr("REPLIKV_ADDRESS", "0.0.0.0:4567"), "listen address")
	roleFlag := fs.String("type", envOr("REPLIKV_TYPE", "reader"), "role: reader or writer")
	lastReplicaID := fs.String("last-replica-id", os.Getenv("REPLIKV_LAST_REPLICA_ID"), "initial last_replica_id (reader only)")
	readers := fs.String("readers", os.Getenv("REPLIKV_READERS"), "comma-separated reader addresses (writer only)")
	backupDir := fs.String("backup-dir", envOr("REPLIKV_BACKUP_DIR", "/tmp"), "directory for persisted state files")
	shardBreakLimit := fs.Int64("shard-break-limit", envInt64Or("REPLIKV_SHARD_BREAK_LIMIT", 32), "shard split threshold in bytes")
	metricsAddress := fs.String("metrics-address", os.Getenv("REPLIKV_METRICS_ADDRESS"), "metrics HTTP listen address (disabled if empty)")
	housekeepingCron := fs.String("housekeeping-cron", envOr("REPLIKV_HOUSEKEEPING_CRON", "0 * * * *"), "housekeeping cron schedule")
	logLevel := fs.String("log-level", envOr("REPLIKV_LOG_LEVEL", "info"), "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Address:          *address,
		Role:             Role(strings.ToLower(strings.TrimSpace(*roleFlag))),
		BackupDir:        *backupDir,
		ShardBreakLimit:  *shardBreakLimit,
		MetricsAddress:   *metricsAddress,
		HousekeepingCron: *housekeepingCron,
		LogLevel:         *logLevel,
	}

	if s := strings.TrimSpace(*lastReplicaID); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid --last-replica-id %q: %w", s, err)
		}
		cfg.LastReplicaID = v
		cfg.HasLastReplicaID = true
	}

	if s := strings.TrimSpace(*readers); s != "" {
		for _, r := range strings.Split(s, ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				cfg.Readers = append(cfg.Readers, r)
			}
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Role {
	case RoleReader, RoleWriter:
	default:
		return fmt.Errorf("config: --type must be \"reader\" or \"writer\", got %q", cfg.Role)
	}
	if cfg.Address == "" {
		return fmt.Errorf("config: --address must not be empty")
	}
	if cfg.ShardBreakLimit <= 0 {
		return fmt.Errorf("config: --shard-break-limit must be positive, got %d", cfg.ShardBreakLimit)
	}
	if cfg.Role == RoleWriter && cfg.HasLastReplicaID {
		return fmt.Errorf("config: --last-replica-id is reader-only")
	}
	if cfg.Role == RoleReader && len(cfg.Readers) > 0 {
		return fmt.Errorf("config: --readers is writer-only")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
