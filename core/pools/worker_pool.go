package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-worker queue length
const DefaultQueueSize = 256

// Task represents a unit of work
type Task func()

// WorkerPool implements a work-stealing goroutine pool. The event loop uses
// it to run blocking backend calls off the loop goroutine.
type WorkerPool struct {
	numWorkers int
	queues     []chan Task
	closed     atomic.Bool
	mu         sync.RWMutex // guards queue sends against Close
	wg         sync.WaitGroup
	next       atomic.Uint64

	stats struct {
		tasksSubmitted atomic.Uint64
		tasksRejected  atomic.Uint64
		tasksCompleted atomic.Uint64
		stealsSuccess  atomic.Uint64
		stealsFailed   atomic.Uint64
	}
}

// NewWorkerPool creates a work-stealing pool with numWorkers goroutines
func NewWorkerPool(numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &WorkerPool{
		numWorkers: numWorkers,
		queues:     make([]chan Task, numWorkers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, queueSize)
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run(i)
	}
	return p
}

// Submit queues task round-robin, trying the next worker when the first
// choice is full. It returns false when the pool is closed or saturated;
// the task is then not run.
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		p.stats.tasksRejected.Add(1)
		return false
	}

	idx := int(p.next.Add(1) % uint64(p.numWorkers))
	for i := 0; i < 2 && i < p.numWorkers; i++ {
		select {
		case p.queues[(idx+i)%p.numWorkers] <- task:
			p.stats.tasksSubmitted.Add(1)
			return true
		default:
		}
	}
	p.stats.tasksRejected.Add(1)
	return false
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		// own queue first
		select {
		case task, ok := <-own:
			if !ok {
				return
			}
			p.exec(task)
			continue
		default:
		}

		if p.trySteal(id) {
			continue
		}

		task, ok := <-own
		if !ok {
			return
		}
		p.exec(task)
	}
}

func (p *WorkerPool) exec(task Task) {
	task()
	p.stats.tasksCompleted.Add(1)
}

// trySteal runs one task taken from another worker's queue
func (p *WorkerPool) trySteal(id int) bool {
	start := (id + 1) % p.numWorkers
	for i := 0; i < p.numWorkers-1; i++ {
		victim := p.queues[(start+i)%p.numWorkers]
		select {
		case task, ok := <-victim:
			if ok {
				p.stats.stealsSuccess.Add(1)
				p.exec(task)
				return true
			}
		default:
		}
	}
	p.stats.stealsFailed.Add(1)
	return false
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksRejected  uint64 `json:"tasks_rejected"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksPending   uint64 `json:"tasks_pending"`
	StealsSuccess  uint64 `json:"steals_success"`
	StealsFailed   uint64 `json:"steals_failed"`
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	s := WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksRejected:  p.stats.tasksRejected.Load(),
		TasksCompleted: completed,
		StealsSuccess:  p.stats.stealsSuccess.Load(),
		StealsFailed:   p.stats.stealsFailed.Load(),
	}
	if submitted > completed {
		s.TasksPending = submitted - completed
	}
	return s
}
