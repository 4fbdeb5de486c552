// Package metrics defines the process's Prometheus counters/gauges and
// an optional HTTP endpoint for scraping them, separate from the TCP
// protocol port.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replikv/pkg/logger"
)

var (
	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replikv_connections_accepted_total",
		Help: "TCP connections accepted by the server.",
	})

	CommandsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replikv_commands_processed_total",
		Help: "Commands processed, by command kind and role.",
	}, []string{"kind", "role"})

	ResponseTags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replikv_response_tags_total",
		Help: "Responses sent, by response tag.",
	}, []string{"tag"})

	ReplicationPushesAttempted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replikv_replication_pushes_attempted_total",
		Help: "Replication push passes attempted, by reader address.",
	}, []string{"reader"})

	ReplicationPushesSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replikv_replication_pushes_succeeded_total",
		Help: "Replication push passes that completed without error, by reader address.",
	}, []string{"reader"})

	ReplicationPushesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replikv_replication_pushes_failed_total",
		Help: "Replication push passes that errored, by reader address.",
	}, []string{"reader"})

	EventLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replikv_event_log_size",
		Help: "Number of events currently in the EventLog.",
	})

	ShardCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replikv_shard_count",
		Help: "Number of on-disk backup shards.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		CommandsProcessed,
		ResponseTags,
		ReplicationPushesAttempted,
		ReplicationPushesSucceeded,
		ReplicationPushesFailed,
		EventLogSize,
		ShardCount,
	)
}

// Server serves the /metrics endpoint on its own address, independent
// of the TCP protocol listener. A nil *Server (address disabled) is a
// valid, inert Drainer.
type Server struct {
	http *http.Server
}

// NewServer builds a metrics HTTP server bound to address. If address
// is empty, NewServer returns nil: the caller treats a nil *Server as
// "metrics disabled" and skips Start/Drain.
func NewServer(address string) *Server {
	if address == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{http: &http.Server{Addr: address, Handler: mux}}
}

// Start runs the metrics HTTP server until Drain is called. It logs and
// returns once the listener closes.
func (s *Server) Start() {
	if s == nil {
		return
	}
	logger.Info("metrics_listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics_server_failed", "error", err)
	}
}

// Drain shuts the metrics HTTP server down, satisfying shutdown.Drainer.
func (s *Server) Drain(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
