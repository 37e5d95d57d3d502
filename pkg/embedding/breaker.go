package embedding

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

// Breaker states reported by State.
const (
	BreakerClosed = "closed"
	BreakerOpen   = "open"
)

// MemoryBreaker refuses encode requests while this process's resident memory
// sits above a soft threshold.
//
// The breaker only ever reads this process's RSS, never system-wide memory:
// on shared hosts the system figure includes the neighbours and would trip
// the breaker for load we did not cause. Once open it stays open until RSS
// drops below the recovery threshold; a successful call alone never closes
// it.
type MemoryBreaker struct {
	limit   uint64
	recover uint64

	mu   sync.Mutex
	open bool

	// rss is swappable for tests.
	rss func() (uint64, error)
}

// NewMemoryBreaker creates a breaker that opens above limit bytes and closes
// again only below recover bytes. recover must be below limit; passing 0
// defaults it to 90% of the limit.
func NewMemoryBreaker(limit, recoverBytes uint64) *MemoryBreaker {
	if recoverBytes == 0 || recoverBytes >= limit {
		recoverBytes = limit / 10 * 9
	}
	return &MemoryBreaker{
		limit:   limit,
		recover: recoverBytes,
		rss:     processRSS,
	}
}

// Allow reports whether a request may proceed, transitioning the breaker
// based on the current RSS reading.
func (b *MemoryBreaker) Allow() error {
	rss, err := b.rss()
	if err != nil {
		// RSS reading failures never block requests.
		logger.Warnw("failed to read process RSS", "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		if rss < b.recover {
			b.open = false
			logger.Infow("memory circuit breaker closed", "rss_bytes", rss, "recover_bytes", b.recover)
			return nil
		}
		return ErrResourceExhausted
	}

	if rss > b.limit {
		b.open = true
		logger.Warnw("memory circuit breaker opened", "rss_bytes", rss, "limit_bytes", b.limit)
		return ErrResourceExhausted
	}
	return nil
}

// State returns the current breaker state without transitioning it.
func (b *MemoryBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return BreakerOpen
	}
	return BreakerClosed
}

// processRSS reads the resident set size of this process.
func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
