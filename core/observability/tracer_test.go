package observability

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSyscallTracerDisabledByDefault(t *testing.T) {
	tracer := NewSyscallTracer(false)
	tracer.TraceSystemCall("read", time.Microsecond, nil)
	tracer.TraceNetwork("client", 10, 10, true)

	if len(tracer.GetSyscallStats()) != 0 || len(tracer.GetNetworkStats()) != 0 {
		t.Error("Disabled tracer should record nothing")
	}

	tracer.Enable()
	tracer.TraceSystemCall("read", time.Microsecond, nil)
	if tracer.GetSyscallStats()["read"].Count != 1 {
		t.Error("Expected read to be recorded after Enable")
	}
}

func TestSyscallTracerNil(t *testing.T) {
	var tracer *SyscallTracer
	if tracer.Enabled() {
		t.Error("Nil tracer should be disabled")
	}
	tracer.TraceSystemCall("read", time.Microsecond, nil)
	tracer.TraceNetwork("client", 1, 1, true)
	if len(tracer.GetSyscallStats()) != 0 {
		t.Error("Nil tracer should report nothing")
	}
	if !strings.Contains(tracer.Report(), "No data") {
		t.Error("Expected empty report")
	}
}

func TestSyscallTracerStats(t *testing.T) {
	tracer := NewSyscallTracer(true)
	tracer.TraceSystemCall("write", 2*time.Millisecond, nil)
	tracer.TraceSystemCall("write", 4*time.Millisecond, nil)
	tracer.TraceSystemCall("write", 6*time.Millisecond, errors.New("broken pipe"))

	s := tracer.GetSyscallStats()["write"]
	if s.Count != 3 {
		t.Errorf("Expected 3 calls, got %d", s.Count)
	}
	if s.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", s.Errors)
	}
	if s.AvgTime != 4*time.Millisecond {
		t.Errorf("Expected avg 4ms, got %v", s.AvgTime)
	}
	if s.MinTime != 2*time.Millisecond || s.MaxTime != 6*time.Millisecond {
		t.Errorf("Expected min 2ms max 6ms, got %v/%v", s.MinTime, s.MaxTime)
	}
}

func TestSyscallTracerNetwork(t *testing.T) {
	tracer := NewSyscallTracer(true)
	tracer.TraceNetwork("client", 0, 0, true)
	tracer.TraceNetwork("client", 100, 50, false)
	tracer.TraceNetwork("backend", 20, 2048, true)

	stats := tracer.GetNetworkStats()
	if c := stats["client"]; c.Connections != 1 || c.BytesSent != 100 || c.BytesRecv != 50 {
		t.Errorf("Unexpected client stats %+v", c)
	}
	if b := stats["backend"]; b.Connections != 1 || b.BytesRecv != 2048 {
		t.Errorf("Unexpected backend stats %+v", b)
	}

	report := tracer.Report()
	for _, want := range []string{"Network I/O", "backend", "client", "recv=2 KB"} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected %q in report:\n%s", want, report)
		}
	}
}

func TestSyscallTracerConcurrent(t *testing.T) {
	tracer := NewSyscallTracer(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tracer.TraceSystemCall("read", time.Duration(j), nil)
			}
		}()
	}
	wg.Wait()

	if got := tracer.GetSyscallStats()["read"].Count; got != 8000 {
		t.Errorf("Expected 8000 calls, got %d", got)
	}
}

func BenchmarkTraceSystemCall(b *testing.B) {
	tracer := NewSyscallTracer(true)
	for i := 0; i < b.N; i++ {
		tracer.TraceSystemCall("read", time.Microsecond, nil)
	}
}
