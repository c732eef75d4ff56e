package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SyscallTracer aggregates latency and error counts of the event loop's
// system calls and the bytes moved per peer class. It is disabled unless
// created enabled. Recording and reading are no-ops on a nil tracer.
type SyscallTracer struct {
	enabled atomic.Bool

	syscalls     sync.Map // map[string]*SyscallStats
	networkStats sync.Map // map[string]*NetworkStats
}

// SyscallStats tracks syscall performance
type SyscallStats struct {
	Name      string
	Count     atomic.Uint64
	TotalTime atomic.Uint64 // nanoseconds
	MinTime   atomic.Uint64
	MaxTime   atomic.Uint64
	Errors    atomic.Uint64
}

// NetworkStats tracks network I/O
type NetworkStats struct {
	Peer        string // "client", "backend"
	BytesSent   atomic.Uint64
	BytesRecv   atomic.Uint64
	Connections atomic.Uint64
}

// NewSyscallTracer creates a tracer
func NewSyscallTracer(enabled bool) *SyscallTracer {
	t := &SyscallTracer{}
	t.enabled.Store(enabled)
	return t
}

// Enabled reports whether calls are being recorded
func (t *SyscallTracer) Enabled() bool {
	return t != nil && t.enabled.Load()
}

// Enable enables tracing
func (t *SyscallTracer) Enable() { t.enabled.Store(true) }

// Disable disables tracing
func (t *SyscallTracer) Disable() { t.enabled.Store(false) }

// TraceSystemCall records one call of name. A non-nil err counts as an error.
func (t *SyscallTracer) TraceSystemCall(name string, duration time.Duration, err error) {
	if !t.Enabled() {
		return
	}

	val, _ := t.syscalls.LoadOrStore(name, &SyscallStats{Name: name})
	stats := val.(*SyscallStats)

	stats.Count.Add(1)
	durationNs := uint64(duration.Nanoseconds())
	stats.TotalTime.Add(durationNs)
	if err != nil {
		stats.Errors.Add(1)
	}

	updateMin(&stats.MinTime, durationNs)
	updateMax(&stats.MaxTime, durationNs)
}

// TraceNetwork records bytes exchanged with a peer class
func (t *SyscallTracer) TraceNetwork(peer string, bytesSent, bytesRecv uint64, isNewConn bool) {
	if !t.Enabled() {
		return
	}

	val, _ := t.networkStats.LoadOrStore(peer, &NetworkStats{Peer: peer})
	stats := val.(*NetworkStats)

	stats.BytesSent.Add(bytesSent)
	stats.BytesRecv.Add(bytesRecv)
	if isNewConn {
		stats.Connections.Add(1)
	}
}

// SyscallSnapshot is a point-in-time view of one syscall
type SyscallSnapshot struct {
	Name    string        `json:"name"`
	Count   uint64        `json:"count"`
	AvgTime time.Duration `json:"avg"`
	MinTime time.Duration `json:"min"`
	MaxTime time.Duration `json:"max"`
	Errors  uint64        `json:"errors"`
}

// NetworkSnapshot is a point-in-time view of one peer class
type NetworkSnapshot struct {
	Peer        string `json:"peer"`
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	Connections uint64 `json:"connections"`
}

// GetSyscallStats returns syscall statistics
func (t *SyscallTracer) GetSyscallStats() map[string]SyscallSnapshot {
	result := make(map[string]SyscallSnapshot)
	if t == nil {
		return result
	}

	t.syscalls.Range(func(key, value interface{}) bool {
		name := key.(string)
		stats := value.(*SyscallStats)
		count := stats.Count.Load()

		if count > 0 {
			result[name] = SyscallSnapshot{
				Name:    name,
				Count:   count,
				AvgTime: time.Duration(stats.TotalTime.Load() / count),
				MinTime: time.Duration(stats.MinTime.Load()),
				MaxTime: time.Duration(stats.MaxTime.Load()),
				Errors:  stats.Errors.Load(),
			}
		}
		return true
	})

	return result
}

// GetNetworkStats returns network statistics
func (t *SyscallTracer) GetNetworkStats() map[string]NetworkSnapshot {
	result := make(map[string]NetworkSnapshot)
	if t == nil {
		return result
	}

	t.networkStats.Range(func(key, value interface{}) bool {
		peer := key.(string)
		stats := value.(*NetworkStats)

		result[peer] = NetworkSnapshot{
			Peer:        peer,
			BytesSent:   stats.BytesSent.Load(),
			BytesRecv:   stats.BytesRecv.Load(),
			Connections: stats.Connections.Load(),
		}
		return true
	})

	return result
}

// Report generates a human-readable report
func (t *SyscallTracer) Report() string {
	var b strings.Builder
	b.WriteString("Syscall Trace Report\n====================\n\nSystem calls:\n")

	syscalls := t.GetSyscallStats()
	if len(syscalls) == 0 {
		b.WriteString("  No data\n")
	}
	for _, name := range sortedKeys(syscalls) {
		s := syscalls[name]
		fmt.Fprintf(&b, "  %-10s %d calls, avg=%v, min=%v, max=%v, errors=%d\n",
			name, s.Count, s.AvgTime, s.MinTime, s.MaxTime, s.Errors)
	}

	b.WriteString("\nNetwork I/O:\n")
	network := t.GetNetworkStats()
	if len(network) == 0 {
		b.WriteString("  No data\n")
	}
	for _, peer := range sortedKeys(network) {
		s := network[peer]
		fmt.Fprintf(&b, "  %-10s %d conns, sent=%d KB, recv=%d KB\n",
			peer, s.Connections, s.BytesSent/1024, s.BytesRecv/1024)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
