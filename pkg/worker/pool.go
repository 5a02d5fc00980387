package worker

import (
	"errors"
	"sync"
)

// WorkerPool owns a fixed set of workers and the WaitGroup used to
// join them on shutdown. Workers are pushed before Start and cannot
// be added afterwards.
type WorkerPool struct {
	workers []Worker
	Wg      sync.WaitGroup
	started bool
}

func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start launches a goroutine per worker. Start does NOT block;
// consumers can wait on the pools WaitGroup if they wish.
func (pool *WorkerPool) Start() error {
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, w := range pool.workers {
		pool.Wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start()
		}(&pool.Wg, w)
	}

	return nil
}

func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// WakeupWorkers signals every sleeping worker in the pool. The send
// is non-blocking; a worker mid-transition simply misses a wakeup it
// no longer needs.
func (pool *WorkerPool) WakeupWorkers() error {
	if !pool.started {
		return errors.New("cannot wakeup workers on worker pool that is not started")
	}

	for _, w := range pool.workers {
		if w.Status() == SLEEPING {
			select {
			case w.WakeupChan() <- 1:
			default:
			}
		}
	}

	return nil
}

// Close closes all worker wakeup channels and waits for the workers
// to finish their current task and exit.
func (pool *WorkerPool) Close() {
	if !pool.started {
		return
	}

	for _, w := range pool.workers {
		w.Close()
	}
	pool.Wg.Wait()
	pool.started = false
}
