package pools

import (
	"sync"
	"sync/atomic"
	"time"
)

// SmartPool is a typed object pool with warmup and statistics. The engine
// keeps its in-flight request objects here.
type SmartPool[T any] struct {
	pool    sync.Pool
	newFunc func() T
	reset   func(T)

	gets      atomic.Uint64
	puts      atomic.Uint64
	news      atomic.Uint64
	startTime time.Time
}

// SmartPoolConfig configures a smart pool
type SmartPoolConfig[T any] struct {
	New        func() T
	Reset      func(T)
	WarmupSize int // objects to pre-allocate
}

// NewSmartPool creates a new smart pool and warms it up
func NewSmartPool[T any](config SmartPoolConfig[T]) *SmartPool[T] {
	sp := &SmartPool[T]{
		newFunc:   config.New,
		reset:     config.Reset,
		startTime: time.Now(),
	}
	sp.pool.New = func() any {
		sp.news.Add(1)
		return sp.newFunc()
	}

	for i := 0; i < config.WarmupSize; i++ {
		sp.pool.Put(sp.newFunc())
	}
	return sp
}

// Get acquires an object from the pool
func (sp *SmartPool[T]) Get() T {
	sp.gets.Add(1)
	return sp.pool.Get().(T)
}

// Put resets obj and returns it to the pool
func (sp *SmartPool[T]) Put(obj T) {
	sp.puts.Add(1)
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}

// SmartPoolStats contains smart pool statistics
type SmartPoolStats struct {
	Gets    uint64        `json:"gets"`
	Puts    uint64        `json:"puts"`
	News    uint64        `json:"news"`
	HitRate float64       `json:"hit_rate"`
	Uptime  time.Duration `json:"uptime"`
}

// Stats returns pool statistics. HitRate is the share of Gets served
// without allocating.
func (sp *SmartPool[T]) Stats() SmartPoolStats {
	gets := sp.gets.Load()
	news := sp.news.Load()

	s := SmartPoolStats{
		Gets:   gets,
		Puts:   sp.puts.Load(),
		News:   news,
		Uptime: time.Since(sp.startTime),
	}
	if gets > 0 && gets > news {
		s.HitRate = float64(gets-news) / float64(gets)
	}
	return s
}
