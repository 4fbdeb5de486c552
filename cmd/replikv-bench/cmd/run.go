package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"replikv/pkg/wire"
)

func run(_ *cobra.Command, _ []string) error {
	if connections <= 0 {
		return fmt.Errorf("--connections must be positive")
	}

	limiter := rate.NewLimiter(rate.Limit(rps), max(1, int(rps/10)))
	metrics := &runMetrics{}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	var keyCounter int64

	for i := 0; i < connections; i++ {
		conn, err := net.DialTimeout("tcp", address, 5*time.Second)
		if err != nil {
			return fmt.Errorf("worker %d: connect to %s: %w", i, address, err)
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			workerLoop(ctx, conn, limiter, metrics, &keyCounter)
		}(conn)
	}

	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	printSummary(metrics.summarize(elapsed))
	return nil
}

func workerLoop(ctx context.Context, conn net.Conn, limiter *rate.Limiter, metrics *runMetrics, keyCounter *int64) {
	value := make([]byte, valueSize)
	rand.Read(value)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		n := atomic.AddInt64(keyCounter, 1)
		key := fmt.Sprintf("bench-key-%d", n%10000)

		var payload []byte
		if float64(n%100)/100 < getRatio {
			payload = []byte("GET " + key)
		} else {
			payload = append([]byte("SET "+key+" "), value...)
		}

		start := time.Now()
		ok := sendOnce(conn, payload)
		metrics.record(time.Since(start), int64(len(payload)), 0, ok)
	}
}

func sendOnce(conn net.Conn, payload []byte) bool {
	if err := wire.WriteFrame(conn, payload); err != nil {
		return false
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		return false
	}
	decoded, err := wire.DecodeResponse(resp)
	if err != nil {
		return false
	}
	return decoded.Tag == wire.RespSuccess || decoded.Tag == wire.RespValue || decoded.Tag == wire.RespValueMissing
}

func printSummary(s summary) {
	rps := float64(s.Total) / s.Elapsed.Seconds()
	fmt.Printf("requests:    %d (%d ok, %d failed)\n", s.Total, s.Succeeded, s.Failed)
	fmt.Printf("duration:    %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Printf("throughput:  %.1f req/s\n", rps)
	fmt.Printf("bytes sent:  %s\n", humanize.Bytes(uint64(s.BytesSent)))
	fmt.Printf("latency:     p50=%s p90=%s p99=%s\n", s.P50, s.P90, s.P99)
}
