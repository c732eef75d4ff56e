package pools

import (
	"sync"
	"sync/atomic"
)

// Output buffer tiers
const (
	SmallBufferSize  = 4 * 1024  // status line, headers and a small body
	MediumBufferSize = 16 * 1024 // typical static asset
	LargeBufferSize  = 64 * 1024 // proxied payloads
)

// BufferPool hands out zero-length, pre-sized buffers that responses are
// serialized into before being written to a socket.
type BufferPool struct {
	small  *sync.Pool
	medium *sync.Pool
	large  *sync.Pool

	smallHits  atomic.Uint64
	mediumHits atomic.Uint64
	largeHits  atomic.Uint64
	oversized  atomic.Uint64
	totalGets  atomic.Uint64
}

func tier(size int) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			buf := make([]byte, 0, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small:  tier(SmallBufferSize),
		medium: tier(MediumBufferSize),
		large:  tier(LargeBufferSize),
	}
}

// Get returns a buffer with room for at least size bytes
func (bp *BufferPool) Get(size int) *[]byte {
	bp.totalGets.Add(1)

	switch {
	case size <= SmallBufferSize:
		bp.smallHits.Add(1)
		return bp.small.Get().(*[]byte)
	case size <= MediumBufferSize:
		bp.mediumHits.Add(1)
		return bp.medium.Get().(*[]byte)
	case size <= LargeBufferSize:
		bp.largeHits.Add(1)
		return bp.large.Get().(*[]byte)
	default:
		bp.oversized.Add(1)
		buf := make([]byte, 0, size)
		return &buf
	}
}

// Put returns a buffer to the tier matching its capacity
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:0]

	c := cap(*buf)
	switch {
	case c < SmallBufferSize:
		// shrunk below every tier
	case c < MediumBufferSize:
		bp.small.Put(buf)
	case c < LargeBufferSize:
		bp.medium.Put(buf)
	case c <= 2*LargeBufferSize:
		bp.large.Put(buf)
	}
	// bigger buffers are left to the GC
}

// BufferStats contains buffer pool statistics
type BufferStats struct {
	SmallHits  uint64  `json:"small_hits"`
	MediumHits uint64  `json:"medium_hits"`
	LargeHits  uint64  `json:"large_hits"`
	Oversized  uint64  `json:"oversized"`
	TotalGets  uint64  `json:"total_gets"`
	HitRate    float64 `json:"hit_rate"`
}

// Stats returns buffer pool statistics
func (bp *BufferPool) Stats() BufferStats {
	total := bp.totalGets.Load()
	s := BufferStats{
		SmallHits:  bp.smallHits.Load(),
		MediumHits: bp.mediumHits.Load(),
		LargeHits:  bp.largeHits.Load(),
		Oversized:  bp.oversized.Load(),
		TotalGets:  total,
	}
	if total > 0 {
		s.HitRate = float64(s.SmallHits+s.MediumHits+s.LargeHits) / float64(total)
	}
	return s
}

var globalBufferPool = NewBufferPool()

// AcquireBuffer gets a buffer from the global pool
func AcquireBuffer(size int) *[]byte {
	return globalBufferPool.Get(size)
}

// ReleaseBuffer returns a buffer to the global pool
func ReleaseBuffer(buf *[]byte) {
	globalBufferPool.Put(buf)
}

// GetBufferStats returns statistics for the global buffer pool
func GetBufferStats() BufferStats {
	return globalBufferPool.Stats()
}
