package tunnel

import (
	"net/netip"
	"testing"
	"time"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/stretchr/testify/assert"
)

func TestSourceLimiter_InitialBurst(t *testing.T) {
	sl := NewSourceLimiter(10, 3)
	src := netip.MustParseAddr("10.0.0.1")
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if !sl.Allow(src, now) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if sl.Allow(src, now) {
		t.Error("request beyond burst should be rejected")
	}

	stats := sl.GetStats()
	assert.Equal(t, 1, stats.TrackedSources)
	assert.Equal(t, uint64(4), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.TotalRejections)
}

func TestSourceLimiter_Replenish(t *testing.T) {
	sl := NewSourceLimiter(60, 1)
	src := netip.MustParseAddr("10.0.0.1")
	now := time.Unix(1700000000, 0)

	assert.True(t, sl.Allow(src, now))
	assert.False(t, sl.Allow(src, now))
	assert.True(t, sl.Allow(src, now.Add(time.Second)))
}

func TestSourceLimiter_SourcesAreIndependent(t *testing.T) {
	sl := NewSourceLimiter(10, 1)
	now := time.Unix(1700000000, 0)

	assert.True(t, sl.Allow(netip.MustParseAddr("10.0.0.1"), now))
	assert.True(t, sl.Allow(netip.MustParseAddr("10.0.0.2"), now))
	assert.False(t, sl.Allow(netip.MustParseAddr("10.0.0.1"), now))
}

func TestSourceLimiter_Cleanup(t *testing.T) {
	sl := NewSourceLimiter(10, 1)
	now := time.Unix(1700000000, 0)
	sl.Allow(netip.MustParseAddr("10.0.0.1"), now)
	sl.Allow(netip.MustParseAddr("10.0.0.2"), now.Add(9*time.Minute))

	removed := sl.Cleanup(now.Add(11 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, sl.GetStats().TrackedSources)
}

func TestSourceLimiter_DisabledIsNil(t *testing.T) {
	cfg := config.Defaults().Tunnel
	cfg.PerSourceRateLimitEnabled = false
	sl := NewSourceLimiterWithConfig(cfg)
	if sl != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	assert.True(t, sl.Allow(netip.MustParseAddr("10.0.0.1"), time.Now()))
	assert.Equal(t, 0, sl.Cleanup(time.Now()))
}
