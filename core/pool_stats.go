package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/searchktools/fast-edge/core/observability"
	"github.com/searchktools/fast-edge/core/pools"
)

// ServerStats are the event loop counters
type ServerStats struct {
	Accepted     uint64        `json:"accepted"`
	Rejected     uint64        `json:"rejected"`
	Requests     uint64        `json:"requests"`
	ParseErrors  uint64        `json:"parse_errors"`
	Oversized    uint64        `json:"oversized"`
	Offloaded    uint64        `json:"offloaded"`
	Overloaded   uint64        `json:"overloaded"`
	Discarded    uint64        `json:"discarded"`
	WriteErrors  uint64        `json:"write_errors"`
	AcceptErrors uint64        `json:"accept_errors"`
	BytesRead    uint64        `json:"bytes_read"`
	BytesWritten uint64        `json:"bytes_written"`
	Uptime       time.Duration `json:"uptime"`
}

// PoolStats represents statistics for all pools
type PoolStats struct {
	Server     ServerStats                `json:"server"`
	Connection pools.ConnectionPoolStats  `json:"connection"`
	Request    pools.SmartPoolStats       `json:"request"`
	BytePool   pools.BytePoolStats        `json:"byte_pool"`
	BufferPool pools.BufferStats          `json:"buffer_pool"`
	Workers    *pools.WorkerPoolStats     `json:"workers,omitempty"`
	GC         pools.GCStats              `json:"gc"`
	Routes     []observability.RouteStats `json:"routes,omitempty"`
	Findings   []observability.Finding    `json:"findings,omitempty"`
}

// GetPoolStats returns a snapshot of the engine and pool counters. Safe to
// call from any goroutine; connection and worker figures are zero before
// the engine is ready.
func (e *Engine) GetPoolStats() PoolStats {
	stats := PoolStats{
		Server: ServerStats{
			Accepted:     e.stats.accepted.Load(),
			Rejected:     e.stats.rejected.Load(),
			Requests:     e.stats.requests.Load(),
			ParseErrors:  e.stats.parseErrors.Load(),
			Oversized:    e.stats.oversized.Load(),
			Offloaded:    e.stats.offloaded.Load(),
			Overloaded:   e.stats.overloaded.Load(),
			Discarded:    e.stats.discarded.Load(),
			WriteErrors:  e.stats.writeErrors.Load(),
			AcceptErrors: e.stats.acceptErrors.Load(),
			BytesRead:    e.stats.bytesRead.Load(),
			BytesWritten: e.stats.bytesWritten.Load(),
		},
		Request:    e.requests.Stats(),
		BytePool:   pools.GetBytePoolStats(),
		BufferPool: pools.GetBufferStats(),
		GC:         pools.GetGCStats(),
	}

	select {
	case <-e.ready:
		stats.Server.Uptime = time.Since(e.startTime)
		stats.Connection = e.conns.Stats()
		if e.workers != nil {
			ws := e.workers.Stats()
			stats.Workers = &ws
		}
	default:
	}

	if e.monitor != nil {
		stats.Routes = e.monitor.Snapshot()
		stats.Findings = e.monitor.Analyze()
	}
	return stats
}

// GetPoolStatsJSON returns pool statistics as JSON string
func (e *Engine) GetPoolStatsJSON() string {
	stats := e.GetPoolStats()
	data, _ := json.MarshalIndent(stats, "", "  ")
	return string(data)
}

// GetPoolStatsText returns pool statistics as human-readable text
func (e *Engine) GetPoolStatsText() string {
	s := e.GetPoolStats()

	var b strings.Builder
	fmt.Fprintf(&b, `Server Statistics
=================

Connections:
  Active:    %d / %d
  Accepted:  %d
  Rejected:  %d
  Timed out: %d

Requests:
  Handled:      %d
  Parse errors: %d
  Oversized:    %d
  Offloaded:    %d
  Overloaded:   %d

Request Pool:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Buffer Pool:
  Gets:     %d
  Hit Rate: %.2f%%
`,
		s.Connection.Active, s.Connection.Capacity,
		s.Server.Accepted, s.Server.Rejected, s.Connection.TimedOut,
		s.Server.Requests, s.Server.ParseErrors, s.Server.Oversized,
		s.Server.Offloaded, s.Server.Overloaded,
		s.Request.Gets, s.Request.Puts, s.Request.HitRate*100,
		s.BufferPool.TotalGets, s.BufferPool.HitRate*100,
	)

	if s.Workers != nil {
		fmt.Fprintf(&b, "\nWorkers (%d):\n  Completed: %d\n  Rejected:  %d\n",
			s.Workers.NumWorkers, s.Workers.TasksCompleted, s.Workers.TasksRejected)
	}

	if len(s.Routes) > 0 {
		b.WriteString("\nRoutes:\n")
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "  %-10s count=%d errors=%d avg=%v max=%v\n",
				r.Route, r.Count, r.Errors, r.Avg, r.Max)
		}
	}
	for _, f := range s.Findings {
		fmt.Fprintf(&b, "  ! %s: %s\n", f.Route, f.Details)
	}
	return b.String()
}
