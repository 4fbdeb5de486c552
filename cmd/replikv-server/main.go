// Command replikv-server runs one node of the replication core, in
// either writer or reader role, per --type.
package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/joho/godotenv"

	"replikv/pkg/backup"
	"replikv/pkg/config"
	"replikv/pkg/dispatcher"
	"replikv/pkg/housekeeping"
	"replikv/pkg/logger"
	"replikv/pkg/metrics"
	"replikv/pkg/replicationlog"
	"replikv/pkg/replicator"
	"replikv/pkg/sensor"
	"replikv/pkg/server"
	"replikv/pkg/shutdown"
	"replikv/pkg/store"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "replikv-server: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "replikv-server: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	st := store.New()

	bk, err := backup.Open(cfg.BackupDir, cfg.ShardBreakLimit)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}

	restored, err := bk.Restore()
	if err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	for k, v := range restored {
		st.Set(k, v)
	}
	logger.Info("backup_restored", "keys", len(restored), "shards", bk.ShardCount())

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	onFatal := func(msg string, err error) { shutdown.Abort(msg, err, cfg.BackupDir) }

	var (
		disp       dispatcher.Dispatcher
		drainables []shutdown.Drainer
		sn         *sensor.Sensor
	)

	switch cfg.Role {
	case config.RoleWriter:
		log, err := replicationlog.Open(cfg.BackupDir)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		drainables = append(drainables, logDrainer{log})

		sensorCfg := sensor.DefaultConfig()
		sensorCfg.DiskPath = cfg.BackupDir
		sn = sensor.New(sensorCfg)
		sn.Start()
		drainables = append(drainables, sensorDrainer{sn})

		rep := replicator.NewWriter(log, cfg.Readers, sn)
		rep.Start()
		drainables = append(drainables, rep)

		wd := dispatcher.NewWriterDispatcher(st, bk, log, rep, onFatal)
		disp = wd

		hk, err := housekeeping.New(cfg.HousekeepingCron, func() housekeeping.Snapshot {
			count, _ := log.Count()
			useful, _ := bk.UsefulSize()
			return housekeeping.Snapshot{
				ShardCount:       bk.ShardCount(),
				BackupUsefulSize: useful,
				EventLogLength:   count,
			}
		})
		if err != nil {
			return fmt.Errorf("start housekeeping: %w", err)
		}
		hk.Start(ctx)
		drainables = append(drainables, hk)

	case config.RoleReader:
		rd := dispatcher.NewReaderDispatcher(st, bk, cfg.LastReplicaID, cfg.HasLastReplicaID, onFatal)
		disp = rd

		hk, err := housekeeping.New(cfg.HousekeepingCron, func() housekeeping.Snapshot {
			useful, _ := bk.UsefulSize()
			id, hasID := rd.LastReplicaID()
			if hasID {
				logger.Debug("housekeeping_reader_frontier", "last_replica_id", id)
			}
			return housekeeping.Snapshot{ShardCount: bk.ShardCount(), BackupUsefulSize: useful}
		})
		if err != nil {
			return fmt.Errorf("start housekeeping: %w", err)
		}
		hk.Start(ctx)
		drainables = append(drainables, hk)

	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()
	go disp.Run(dispatchCtx)

	srv := server.New(cfg.Address, disp)
	errCh, err := srv.Start()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	drainables = append(drainables, srv)
	logger.Info("server_started", "address", cfg.Address, "role", cfg.Role)

	metricsServer := metrics.NewServer(cfg.MetricsAddress)
	if metricsServer != nil {
		go metricsServer.Start()
		drainables = append(drainables, metricsServer)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown_started")
	case err := <-errCh:
		logger.Error("accept_loop_failed", "error", err)
	}

	slices.Reverse(drainables)
	shutdown.DrainAll(context.Background(), drainables...)
	dispatchCancel()
	logger.Info("shutdown_complete")
	return nil
}

type logDrainer struct{ log *replicationlog.Log }

func (d logDrainer) Drain(ctx context.Context) error { return d.log.Close() }

type sensorDrainer struct{ sn *sensor.Sensor }

func (d sensorDrainer) Drain(ctx context.Context) error {
	d.sn.Stop()
	return nil
}
