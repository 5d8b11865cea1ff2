package tunnel

import (
	"net/netip"
	"sync"
	"time"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// staleSourceAge is how long a source may stay quiet before its bucket is
// forgotten.
const staleSourceAge = 10 * time.Minute

// SourceLimiter throttles CREATE requests per previous-hop address with a
// token bucket per source. It is consulted before the joined-circuit ceiling.
type SourceLimiter struct {
	mu      sync.Mutex
	sources map[netip.Addr]*sourceState

	limit rate.Limit
	burst int

	totalRequests   uint64
	totalRejections uint64
}

type sourceState struct {
	limiter      *rate.Limiter
	lastSeen     time.Time
	requestCount uint64
	rejectCount  uint64
}

// NewSourceLimiter returns a limiter allowing perMinute sustained requests
// per source with bursts of up to burst.
func NewSourceLimiter(perMinute, burst int) *SourceLimiter {
	sl := &SourceLimiter{
		sources: make(map[netip.Addr]*sourceState),
		limit:   rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst:   max(burst, 1),
	}
	log.WithFields(logger.Fields{
		"at":                   "NewSourceLimiter",
		"phase":                "join",
		"max_requests_per_min": perMinute,
		"burst_size":           sl.burst,
	}).Debug("source limiter initialized")
	return sl
}

// NewSourceLimiterWithConfig builds a limiter from the tunnel configuration.
// It returns nil when per-source limiting is disabled; a nil limiter allows
// everything.
func NewSourceLimiterWithConfig(cfg config.TunnelDefaults) *SourceLimiter {
	if !cfg.PerSourceRateLimitEnabled {
		return nil
	}
	return NewSourceLimiter(cfg.MaxCreateRequestsPerMinute, cfg.CreateRequestBurstSize)
}

// Allow reports whether a CREATE from src may be processed at now.
func (sl *SourceLimiter) Allow(src netip.Addr, now time.Time) bool {
	if sl == nil {
		return true
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.totalRequests++
	state, ok := sl.sources[src]
	if !ok {
		state = &sourceState{limiter: rate.NewLimiter(sl.limit, sl.burst)}
		sl.sources[src] = state
	}
	state.lastSeen = now
	state.requestCount++

	if state.limiter.AllowN(now, 1) {
		return true
	}
	state.rejectCount++
	sl.totalRejections++
	log.WithFields(logger.Fields{
		"at":           "(SourceLimiter) Allow",
		"phase":        "join",
		"reason":       "rate_limit_exceeded",
		"source":       src.String(),
		"reject_count": state.rejectCount,
	}).Debug("rejecting create due to rate limit")
	return false
}

// Cleanup forgets sources not seen for a while. It runs from the pruning pass.
func (sl *SourceLimiter) Cleanup(now time.Time) int {
	if sl == nil {
		return 0
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	removed := 0
	for src, state := range sl.sources {
		if now.Sub(state.lastSeen) > staleSourceAge {
			delete(sl.sources, src)
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":        "(SourceLimiter) Cleanup",
			"reason":    "stale_entry_cleanup",
			"removed":   removed,
			"remaining": len(sl.sources),
		}).Debug("cleaned up stale source limiter entries")
	}
	return removed
}

// SourceLimiterStats summarises limiter activity.
type SourceLimiterStats struct {
	TrackedSources  int
	TotalRequests   uint64
	TotalRejections uint64
}

// GetStats returns statistics about source limiting.
func (sl *SourceLimiter) GetStats() SourceLimiterStats {
	if sl == nil {
		return SourceLimiterStats{}
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return SourceLimiterStats{
		TrackedSources:  len(sl.sources),
		TotalRequests:   sl.totalRequests,
		TotalRejections: sl.totalRejections,
	}
}
