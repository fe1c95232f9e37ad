package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"consentd/internal/infra/metrics"
)

// Guard is the in-process consumed-signature set. TryReserve is a single
// atomic check-and-insert: of two concurrent requests carrying the same
// signature, exactly one wins the reservation. Entries are keyed by
// signature digest and evicted once older than the retention window.
type Guard struct {
	mu   sync.Mutex
	seen map[string]time.Time

	retention time.Duration
	sweep     time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewGuard builds a guard. Retention must cover at least the
// authorization freshness window so a signature can never become reusable
// while it would still pass the freshness check; callers passing a shorter
// retention get it raised to minRetention.
func NewGuard(retention, sweepEvery, minRetention time.Duration, now func() time.Time) *Guard {
	if retention < minRetention {
		retention = minRetention
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = retention / 4
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Guard{
		seen:      make(map[string]time.Time),
		retention: retention,
		sweep:     sweepEvery,
		now:       now,
	}
}

// WithMetrics attaches a collector set so the active reservation count is
// exported. Safe to skip.
func (g *Guard) WithMetrics(m *metrics.Metrics) *Guard {
	g.metrics = m
	return g
}

func (g *Guard) TryReserve(_ context.Context, signature []byte) (bool, error) {
	key := sigKey(signature)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if seenAt, ok := g.seen[key]; ok && now.Sub(seenAt) < g.retention {
		return false, nil
	}
	g.seen[key] = now
	g.metrics.SetReplayReservations(len(g.seen))
	return true, nil
}

func (g *Guard) Release(_ context.Context, signature []byte) error {
	key := sigKey(signature)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	g.metrics.SetReplayReservations(len(g.seen))
	return nil
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Sweep evicts entries older than the retention window and reports how
// many were removed. The critical section is bounded by map size, never
// by I/O.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	evicted := 0
	for key, seenAt := range g.seen {
		if now.Sub(seenAt) >= g.retention {
			delete(g.seen, key)
			evicted++
		}
	}
	g.metrics.SetReplayReservations(len(g.seen))
	return evicted
}

// Run sweeps on a fixed interval until the context is canceled.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := g.Sweep(g.now()); evicted > 0 {
				log.Printf("replay: swept %d consumed signatures", evicted)
			}
		}
	}
}

func sigKey(signature []byte) string {
	sum := sha256.Sum256(signature)
	return hex.EncodeToString(sum[:])
}
