package device

import "sync"

// commandQueue runs jobs one at a time in submission order on a
// dedicated goroutine. Submit never blocks on job execution;
// Synchronize is the fence.
type commandQueue struct {
	dev     *Device
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []func() error
	started bool
	busy    bool
}

func newCommandQueue(dev *Device) *commandQueue {
	q := &commandQueue{dev: dev}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *commandQueue) Submit(fn func() error) {
	q.mu.Lock()
	q.jobs = append(q.jobs, fn)
	if !q.started {
		q.started = true
		go q.run()
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *commandQueue) run() {
	q.mu.Lock()
	for {
		for len(q.jobs) == 0 {
			q.cond.Wait()
		}
		fn := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		if len(q.jobs) == 0 {
			q.jobs = nil
		}
		q.busy = true
		q.mu.Unlock()

		err := fn()
		if err != nil {
			q.dev.fault(err)
		}

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

func (q *commandQueue) Synchronize() {
	q.mu.Lock()
	for len(q.jobs) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
