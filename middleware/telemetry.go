package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds call counts and duration statistics per path.
type Metrics struct {
	mu    sync.RWMutex
	paths map[string]*PathMetrics
}

// PathMetrics holds metrics for a single operation path.
type PathMetrics struct {
	Count   atomic.Int64
	Errors  atomic.Int64
	TotalNs atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{paths: make(map[string]*PathMetrics)}
}

func (m *Metrics) getOrCreate(path string) *PathMetrics {
	m.mu.RLock()
	pm, ok := m.paths[path]
	m.mu.RUnlock()
	if ok {
		return pm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.paths[path]; ok {
		return pm
	}
	pm = &PathMetrics{}
	m.paths[path] = pm
	return pm
}

// Snapshot returns a point-in-time copy of all path metrics.
func (m *Metrics) Snapshot() map[string]PathSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]PathSnapshot, len(m.paths))
	for name, pm := range m.paths {
		snap[name] = PathSnapshot{
			Count:     pm.Count.Load(),
			Errors:    pm.Errors.Load(),
			TotalTime: time.Duration(pm.TotalNs.Load()),
		}
	}
	return snap
}

// PathSnapshot is a point-in-time copy of metrics for one path.
type PathSnapshot struct {
	Count     int64         `json:"count"`
	Errors    int64         `json:"errors"`
	TotalTime time.Duration `json:"totalTime"`
}

// Telemetry returns middleware that collects call count and latency metrics.
func Telemetry(metrics *Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			pm := metrics.getOrCreate(call.Path)
			start := time.Now()
			result, err := next(ctx, call)
			elapsed := time.Since(start)

			pm.Count.Add(1)
			pm.TotalNs.Add(int64(elapsed))
			if err != nil {
				pm.Errors.Add(1)
			}

			return result, err
		}
	}
}
