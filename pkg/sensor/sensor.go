// Package sensor watches host resource pressure (disk and heap usage)
// and exposes a single cheap flag the replicator consults before a push
// pass, so a node under pressure sheds replication work instead of
// making things worse.
package sensor

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"replikv/pkg/logger"
)

// MonitorConfig tunes polling cadence and the high/recovery thresholds.
type MonitorConfig struct {
	PollInterval   time.Duration
	DiskHighPct    int
	MemHighPct     int
	RecoveryWindow time.Duration
	DiskPath       string
}

// DefaultConfig returns sane defaults for a server with no explicit
// sensor tuning.
func DefaultConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:   5 * time.Second,
		DiskHighPct:    90,
		MemHighPct:     90,
		RecoveryWindow: 30 * time.Second,
		DiskPath:       "/",
	}
}

// Sensor polls disk and heap usage on a timer and latches an alert flag
// until usage drops back below threshold for a full RecoveryWindow, so a
// single sample dipping under the line doesn't flap the flag.
type Sensor struct {
	config MonitorConfig

	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	diskAlert     bool
	memAlert      bool
	lastDiskAlert time.Time
	lastMemAlert  time.Time
}

// New builds a Sensor from config. Call Start to begin polling.
func New(config MonitorConfig) *Sensor {
	return &Sensor{
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the polling loop in the background.
func (s *Sensor) Start() {
	go s.run()
}

// Stop halts polling. Safe to call more than once.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Pressured reports whether disk or heap usage is currently over
// threshold. The replicator's push workers check this before a pass and
// skip it, retrying on the next wake, if pressure is high.
func (s *Sensor) Pressured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskAlert || s.memAlert
}

func (s *Sensor) run() {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkHardware()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sensor) checkHardware() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.config.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.Usage(path)
	if err != nil {
		logger.Error("sensor_disk_stat_failed", "error", err)
	} else {
		usedPct := usage.UsedPercent
		if usedPct > float64(s.config.DiskHighPct) {
			if !s.diskAlert {
				logger.Warn("disk_pressure_high", "usage_pct", usedPct, "threshold", s.config.DiskHighPct)
				s.diskAlert = true
			}
			s.lastDiskAlert = now
		} else if s.diskAlert && now.Sub(s.lastDiskAlert) >= s.config.RecoveryWindow {
			logger.Info("disk_pressure_recovered", "usage_pct", usedPct)
			s.diskAlert = false
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memUsedPct := 0.0
	if m.HeapSys > 0 {
		memUsedPct = float64(m.HeapInuse) / float64(m.HeapSys) * 100
	}
	if memUsedPct > float64(s.config.MemHighPct) {
		if !s.memAlert {
			logger.Warn("heap_pressure_high", "usage_pct", memUsedPct, "threshold", s.config.MemHighPct)
			s.memAlert = true
		}
		s.lastMemAlert = now
	} else if s.memAlert && now.Sub(s.lastMemAlert) >= s.config.RecoveryWindow {
		logger.Info("heap_pressure_recovered", "usage_pct", memUsedPct)
		s.memAlert = false
	}
}
