// Package observability keeps per-route latency and error counters for the
// event loop.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Thresholds used by Analyze
const (
	SlowRouteThreshold = 100 * time.Millisecond
	ErrorRateThreshold = 0.05
)

// bucketBounds are the upper bounds of the latency histogram, in ms
var bucketBounds = [...]uint64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

// Monitor records request outcomes per route. Recording is lock-free after
// the first request of a route; reads may happen from any goroutine.
type Monitor struct {
	enabled atomic.Bool
	routes  sync.Map // string -> *routeMetrics

	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
}

type routeMetrics struct {
	name          string
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	buckets       [len(bucketBounds) + 1]atomic.Uint64
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns recording on or off
func (m *Monitor) SetEnabled(on bool) { m.enabled.Store(on) }

// Record records one served request. Status codes of 500 and above count
// as errors.
func (m *Monitor) Record(route string, d time.Duration, status int) {
	if m == nil || !m.enabled.Load() {
		return
	}

	val, ok := m.routes.Load(route)
	if !ok {
		val, _ = m.routes.LoadOrStore(route, &routeMetrics{name: route})
	}
	rm := val.(*routeMetrics)

	ns := uint64(d.Nanoseconds())
	rm.count.Add(1)
	rm.totalDuration.Add(ns)
	updateMin(&rm.minDuration, ns)
	updateMax(&rm.maxDuration, ns)
	rm.buckets[bucketFor(ns)].Add(1)

	m.totalRequests.Add(1)
	if status >= 500 {
		rm.errors.Add(1)
		m.totalErrors.Add(1)
	}
}

func updateMin(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if cur != 0 && d >= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}

func updateMax(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if d <= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}

func bucketFor(ns uint64) int {
	ms := ns / uint64(time.Millisecond)
	for i, bound := range bucketBounds {
		if ms < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// RouteStats is a point-in-time view of one route
type RouteStats struct {
	Route   string        `json:"route"`
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Buckets []uint64      `json:"buckets"`
}

// ErrorRate returns errors/count
func (s RouteStats) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Count)
}

// Snapshot returns the stats of every route sorted by name
func (m *Monitor) Snapshot() []RouteStats {
	var out []RouteStats
	m.routes.Range(func(_, value any) bool {
		rm := value.(*routeMetrics)
		s := RouteStats{
			Route:   rm.name,
			Count:   rm.count.Load(),
			Errors:  rm.errors.Load(),
			Min:     time.Duration(rm.minDuration.Load()),
			Max:     time.Duration(rm.maxDuration.Load()),
			Buckets: make([]uint64, len(rm.buckets)),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(rm.totalDuration.Load() / s.Count)
		}
		for i := range rm.buckets {
			s.Buckets[i] = rm.buckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Totals returns the request and error counts over all routes
func (m *Monitor) Totals() (requests, errors uint64) {
	return m.totalRequests.Load(), m.totalErrors.Load()
}

// Finding describes a route that looks unhealthy
type Finding struct {
	Kind    string `json:"kind"` // "latency" or "errors"
	Route   string `json:"route"`
	Details string `json:"details"`
}

// Analyze flags slow routes and routes with a high error rate
func (m *Monitor) Analyze() []Finding {
	var findings []Finding
	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if s.Avg > SlowRouteThreshold {
			findings = append(findings, Finding{
				Kind:    "latency",
				Route:   s.Route,
				Details: fmt.Sprintf("high latency (%v avg)", s.Avg),
			})
		}
		if rate := s.ErrorRate(); rate > ErrorRateThreshold {
			findings = append(findings, Finding{
				Kind:    "errors",
				Route:   s.Route,
				Details: fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return findings
}
