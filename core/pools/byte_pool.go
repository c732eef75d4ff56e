package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered pool of fixed-size byte slices. Connections take
// their initial receive buffer from it and proxy calls their read buffer.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
	gets  []atomic.Uint64
	puts  atomic.Uint64
	miss  atomic.Uint64
}

// Size tiers
var defaultSizes = []int{
	8 * 1024,  // connection receive buffer
	16 * 1024, // one doubling
	64 * 1024, // proxy backend read
}

// NewBytePool creates a byte pool with the standard tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom, ascending tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
		gets:  make([]atomic.Uint64, len(sizes)),
	}
	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a slice of length size. Sizes above the largest tier are
// allocated directly.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bp.gets[i].Add(1)
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	bp.miss.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices whose capacity matches no
// tier (for example buffers that grew) are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	c := cap(buf)
	for i, poolSize := range bp.sizes {
		if c == poolSize {
			buf = buf[:c]
			bp.pools[i].Put(&buf)
			bp.puts.Add(1)
			return
		}
	}
}

// BytePoolStats contains byte pool statistics
type BytePoolStats struct {
	TierGets map[int]uint64 `json:"tier_gets"`
	Puts     uint64         `json:"puts"`
	Misses   uint64         `json:"misses"`
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	s := BytePoolStats{
		TierGets: make(map[int]uint64, len(bp.sizes)),
		Puts:     bp.puts.Load(),
		Misses:   bp.miss.Load(),
	}
	for i, size := range bp.sizes {
		s.TierGets[size] = bp.gets[i].Load()
	}
	return s
}

var globalBytePool = NewBytePool()

// GetBytes is a convenience function using the global pool
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns bytes to the global pool
func PutBytes(buf []byte) {
	globalBytePool.Put(buf)
}

// GetBytePoolStats returns statistics for the global byte pool
func GetBytePoolStats() BytePoolStats {
	return globalBytePool.Stats()
}
