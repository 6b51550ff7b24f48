package chat

import (
	"sync"
	"sync/atomic"
	"time"
)

// runnerQueueDepth bounds how many posts can pile up per token before
// senders start waiting on each other. Ordering, not throughput, is the
// point of the per-token queue.
const runnerQueueDepth = 16

type runner struct {
	jobs    chan func()
	pending atomic.Int64
}

// dispatcher runs jobs strictly sequentially per session token: one goroutine
// per active token, reaped after sitting idle. Different tokens never wait on
// each other.
type dispatcher struct {
	idleTimeout time.Duration

	mu      sync.Mutex
	runners map[string]*runner
}

func newDispatcher(idleTimeout time.Duration) *dispatcher {
	return &dispatcher{
		idleTimeout: idleTimeout,
		runners:     make(map[string]*runner),
	}
}

// enqueue schedules job on the token's runner, starting one if needed.
func (d *dispatcher) enqueue(token string, job func()) {
	d.mu.Lock()
	r, exists := d.runners[token]
	if !exists {
		r = &runner{jobs: make(chan func(), runnerQueueDepth)}
		d.runners[token] = r
		go d.run(token, r)
	}
	// Counted before the send so the idle reaper never drops an in-flight
	// job.
	r.pending.Add(1)
	d.mu.Unlock()

	r.jobs <- job
}

func (d *dispatcher) run(token string, r *runner) {
	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case job := <-r.jobs:
			job()
			r.pending.Add(-1)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleTimeout)

		case <-idle.C:
			d.mu.Lock()
			if r.pending.Load() == 0 {
				delete(d.runners, token)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)
		}
	}
}

// active returns the number of live runners.
func (d *dispatcher) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runners)
}
