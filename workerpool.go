package peerrpc

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

const (
	// DefaultWorkerIdleTimeout is the time after which an idle worker is released.
	DefaultWorkerIdleTimeout = 60 * time.Second
)

// worker is one handler execution slot.
type worker struct {
	served atomic.Uint64
}

// WorkerStats is a snapshot of the handler worker pool.
type WorkerStats struct {
	Acquired int32 // Workers currently running a handler.
	Idle     int32 // Workers waiting for work.
	Max      int32 // Upper bound on concurrently running handlers.
	Waiting  int64 // Total number of acquisitions that had to wait for a free worker.
}

// workerPool bounds the number of handlers running at once. Requests waiting for a free
// worker queue on their own goroutine, never on the receive path.
type workerPool struct {
	pool   *puddle.Pool[*worker]
	idle   *time.Timer
	mu     sync.Mutex
	closed bool
}

func defaultMaxWorkers() int32 {
	//nolint:gosec,mnd //How many cpus do you think we have? Puddle requires int32.
	return int32(min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) * 2)
}

// newWorkerPool creates a pool of at most maxSize workers. Workers idle for longer than
// idleTimeout are destroyed; a negative idleTimeout keeps them forever.
func newWorkerPool(maxSize int32, idleTimeout time.Duration) (*workerPool, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxWorkers()
	}

	if idleTimeout == 0 {
		idleTimeout = DefaultWorkerIdleTimeout
	}

	pool, err := puddle.NewPool[*worker](&puddle.Config[*worker]{
		Constructor: func(context.Context) (*worker, error) { return &worker{}, nil },
		Destructor:  func(*worker) {},
		MaxSize:     maxSize,
	})
	if err != nil {
		return nil, err
	}

	wp := &workerPool{pool: pool}

	if idleTimeout > 0 {
		wp.mu.Lock()
		defer wp.mu.Unlock()

		wp.idle = time.AfterFunc(idleTimeout, func() {
			wp.mu.Lock()
			defer wp.mu.Unlock()

			if wp.closed {
				return
			}

			nextWait := idleTimeout

			for _, res := range wp.pool.AcquireAllIdle() {
				idleTime := res.IdleDuration()
				if idleTime >= idleTimeout {
					res.Destroy()
				} else {
					nextWait = min(nextWait, idleTimeout-idleTime)
					res.ReleaseUnused()
				}
			}

			wp.idle.Reset(nextWait)
		})
	}

	return wp, nil
}

// run waits for a free worker and runs fn on it. It blocks the calling goroutine only.
func (wp *workerPool) run(ctx context.Context, fn func()) error {
	res, err := wp.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	defer res.Release()

	res.Value().served.Add(1)

	fn()

	return nil
}

func (wp *workerPool) stats() WorkerStats {
	stat := wp.pool.Stat()

	return WorkerStats{
		Acquired: stat.AcquiredResources(),
		Idle:     stat.IdleResources(),
		Max:      stat.MaxResources(),
		Waiting:  stat.EmptyAcquireCount(),
	}
}

// close stops the idle timer and waits for running handlers to return their workers.
// It is safe to call close multiple times.
func (wp *workerPool) close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}

	wp.closed = true

	if wp.idle != nil {
		wp.idle.Stop()
	}
	wp.mu.Unlock()

	wp.pool.Close()
}
