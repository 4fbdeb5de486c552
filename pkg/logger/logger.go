// Package logger wraps log/slog with an async, buffered sink so that
// hot paths (the dispatcher, the replication workers) never block on
// log I/O. Every other package in this module logs through here rather
// than fmt.Println/log.Printf.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Log is the process-wide structured logger. It is nil until Init is
// called; callers that might run before Init (rare: only early flag
// parsing) should guard with a nil check the way Debug/Info/Warn/Error do.
var Log *slog.Logger

type asyncWriter struct{ ch chan []byte }

func (a *asyncWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		// Drop rather than block a hot path on a full log queue.
	}
	return len(p), nil
}

var (
	stopCh chan struct{}
	wg     sync.WaitGroup
)

// Init starts the global logger at the given level ("debug", "info",
// "warn", "error"; defaults to "info"). Writes go to stdout unless
// REPLIKV_LOG_FILE names a path. Call Sync before process exit to flush
// buffered output.
func Init(level string) {
	lv := parseLevel(level)

	ch := make(chan []byte, 10000)
	stopCh = make(chan struct{})
	Log = slog.New(slog.NewTextHandler(&asyncWriter{ch: ch}, &slog.HandlerOptions{Level: lv}))

	wg.Add(1)
	go runSink(ch, stopCh, &wg)
}

func runSink(ch chan []byte, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	var f *os.File
	var out io.Writer = os.Stdout
	if path := os.Getenv("REPLIKV_LOG_FILE"); path != "" {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: open %s: %v\n", path, err)
		} else {
			out = f
		}
	}
	buf := bufio.NewWriterSize(out, 8192)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case b := <-ch:
			buf.Write(b)
		case <-ticker.C:
			buf.Flush()
		case <-stop:
			buf.Flush()
			if f != nil {
				f.Close()
			}
			return
		}
	}
}

// Sync flushes and stops the background sink goroutine. Safe to call
// more than once; subsequent calls are no-ops.
func Sync() {
	if stopCh == nil {
		return
	}
	close(stopCh)
	wg.Wait()
	stopCh = nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
