package embedding

import (
	"context"
	"time"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

// DefaultMonitorInterval is how often the resource monitor samples RSS when
// no interval is configured.
const DefaultMonitorInterval = 30 * time.Second

// ResourceMonitor periodically samples this process's resident memory and
// surfaces it through the log and an optional gauge callback. It watches the
// same per-process figure the circuit breaker acts on, so operators can see
// pressure building before the breaker opens.
type ResourceMonitor struct {
	interval time.Duration
	limit    uint64
	report   func(rss uint64)

	// rss is swappable for tests.
	rss func() (uint64, error)
}

// NewResourceMonitor creates a monitor. Samples above limit bytes log at
// warning level; a zero limit disables the warning. report receives every
// successful sample and may be nil.
func NewResourceMonitor(interval time.Duration, limit uint64, report func(rss uint64)) *ResourceMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &ResourceMonitor{
		interval: interval,
		limit:    limit,
		report:   report,
		rss:      processRSS,
	}
}

// Start samples once immediately, then on every tick until ctx is done.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *ResourceMonitor) sample() {
	rss, err := m.rss()
	if err != nil {
		logger.Warnw("failed to read process RSS", "error", err)
		return
	}
	if m.report != nil {
		m.report(rss)
	}
	if m.limit > 0 && rss > m.limit {
		logger.Warnw("process memory above soft limit", "rss_bytes", rss, "limit_bytes", m.limit)
		return
	}
	logger.Debugw("process memory sampled", "rss_bytes", rss)
}
