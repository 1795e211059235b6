// Package worker runs deferred best-effort jobs (audit rows, operator
// notifications) off the request path, so webhook acknowledgments and balance
// mutations never wait on them.
package worker

import "sync"

type Pool struct {
	wg   sync.WaitGroup
	jobs chan func()
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{jobs: make(chan func(), 1024)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit enqueues a job, dropping it if the queue is full. Jobs here are
// best-effort by contract.
func (p *Pool) Submit(job func()) {
	select {
	case p.jobs <- job:
	default:
	}
}

func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
