// Package shutdown handles process-level lifecycle: signal-driven
// graceful drain, and the crash-dump-then-exit path used when startup or
// a background worker hits an unrecoverable error.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"replikv/pkg/logger"
)

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and returns a
// context that is cancelled the moment either arrives. A second signal
// forces an immediate exit, for an operator who doesn't want to wait out
// a stuck drain.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		cancel()

		s = <-sigc
		logger.Warn("signal_received_again", "signal", s.String(), "msg", "forcing immediate exit")
		os.Exit(130)
	}()

	return ctx, cancel
}

// Abort logs a fatal error, writes a crash dump under dataDir, waits out
// a short grace period so the dump and any buffered log lines land, then
// exits with status 2. Use this for errors a running server cannot
// recover from: a corrupt backup shard, a replicationlog write that
// fails, a listener that can't be reopened.
func Abort(contextMsg string, err error, dataDir string, delaySeconds ...int) {
	delay := 5
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}

	logger.Error("fatal", "msg", contextMsg, "error", err)

	dumpPath, dumpErr := writeCrashDump(dataDir, contextMsg, err)
	if dumpErr != nil {
		fmt.Fprintf(os.Stderr, "replikv: failed to write crash dump: %v\n", dumpErr)
	} else {
		logger.Error("crash_dump_written", "path", dumpPath)
		fmt.Fprintf(os.Stderr, "replikv: crash dump written to %s\n", dumpPath)
	}

	logger.Sync()
	time.Sleep(time.Duration(delay) * time.Second)
	os.Exit(2)
}

// writeCrashDump renders reason, err, and a full goroutine stack trace
// into dataDir/state/crash, atomically via a temp-file-then-rename so a
// reader never observes a partial dump.
func writeCrashDump(dataDir, reason string, err error) (string, error) {
	crashDir := "./crash"
	if dataDir != "" {
		crashDir = filepath.Join(dataDir, "state", "crash")
	}
	if mkErr := os.MkdirAll(crashDir, 0o700); mkErr != nil {
		return "", fmt.Errorf("shutdown: create crash dir: %w", mkErr)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))

	f, tmpErr := os.CreateTemp(crashDir, ".crash-*.tmp")
	if tmpErr != nil {
		return "", fmt.Errorf("shutdown: create temp crash file: %w", tmpErr)
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	f.Write(buf[:n])
	f.Sync()
	f.Close()

	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", fmt.Errorf("shutdown: move crash dump into place: %w", err)
	}
	os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}

// Drainer is any component with an ordered, idempotent shutdown step.
// The server wires its components (sensor, housekeeping, replicator,
// dispatcher listener, replicationlog, metrics server) as Drainers and
// calls Drain in dependency order: stop accepting new work first, then
// let in-flight work finish, then close storage last.
type Drainer interface {
	Drain(ctx context.Context) error
}

// DrainAll runs each Drainer's Drain in order, logging but not stopping
// on individual errors, so one component's failure to close cleanly
// doesn't strand the rest of the shutdown sequence.
func DrainAll(ctx context.Context, components ...Drainer) {
	for _, c := range components {
		if c == nil {
			continue
		}
		if err := c.Drain(ctx); err != nil {
			logger.Error("drain_component_failed", "component", fmt.Sprintf("%T", c), "error", err)
		}
	}
}
