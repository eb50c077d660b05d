package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_GlobalAndScoped(t *testing.T) {
	s := New()
	s.Record("proxy-1", "provider-1", true, 100, 10, 20)
	s.Record("proxy-1", "provider-1", false, 200, 5, 0)

	global := s.Global()
	assert.Equal(t, int64(2), global.TotalRequests)
	assert.Equal(t, int64(1), global.SuccessRequests)
	assert.Equal(t, int64(1), global.FailedRequests)
	assert.Equal(t, int64(15), global.InputTokens)
	assert.Equal(t, int64(20), global.OutputTokens)

	proxySnap, ok := s.Proxy("proxy-1")
	assert.True(t, ok)
	assert.Equal(t, int64(2), proxySnap.TotalRequests)

	providerSnap, ok := s.Provider("provider-1")
	assert.True(t, ok)
	assert.Equal(t, int64(2), providerSnap.TotalRequests)

	_, ok = s.Proxy("nonexistent")
	assert.False(t, ok)
}

func TestRecord_Percentiles(t *testing.T) {
	s := New()
	for i := 1; i <= 100; i++ {
		s.Record("", "", true, int64(i), 0, 0)
	}
	snap := s.Global()
	assert.InDelta(t, 50, snap.P50Ms, 2)
	assert.InDelta(t, 95, snap.P95Ms, 2)
	assert.InDelta(t, 99, snap.P99Ms, 2)
}

func TestLatencyWindow_Bounded(t *testing.T) {
	s := New()
	for i := 0; i < LatencyWindowSize+50; i++ {
		s.Record("", "", true, int64(i), 0, 0)
	}
	snap := s.Global()
	assert.Equal(t, int64(LatencyWindowSize+50), snap.TotalRequests)
	// Oldest 50 samples should have been evicted from the latency window;
	// p99 should reflect the most recent values, not the earliest ones.
	assert.Greater(t, snap.P99Ms, int64(LatencyWindowSize))
}

func TestActiveConns_PairedIncDec(t *testing.T) {
	s := New()
	s.IncActiveConn("proxy-1", "provider-1")
	s.IncActiveConn("proxy-1", "provider-1")
	s.DecActiveConn("proxy-1", "provider-1")

	global := s.Global()
	assert.Equal(t, int64(1), global.ActiveConns)

	proxySnap, ok := s.Proxy("proxy-1")
	assert.True(t, ok)
	assert.Equal(t, int64(1), proxySnap.ActiveConns)
}

func TestRequestsPerMinute(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Record("", "", true, 10, 0, 0)
	}
	snap := s.Global()
	assert.Equal(t, 5, snap.RequestsPerMinute)
}
