package engine

import "sync"

// conditionPool bounds concurrent condition-script evaluations. Condition
// scripts run arbitrary shell and can take up to their timeout, so they are
// kept off the tick goroutine and capped to a fixed worker count.
type conditionPool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newConditionPool(workers int) *conditionPool {
	p := &conditionPool{jobs: make(chan func(), workers*2)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// submit queues a job without blocking. Returns false when the queue is full
// or the pool is stopped; the caller skips that cycle.
func (p *conditionPool) submit(job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// stop drains queued jobs and waits for in-flight ones.
func (p *conditionPool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
