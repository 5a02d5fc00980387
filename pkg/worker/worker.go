package worker

import "landfall/pkg/logger"

var log = logger.Get("Worker")

type WakeupChan chan int

type WorkerStatus int

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

// Task is the unit of work executed by a worker. The boolean return
// indicates whether any work was actually performed; a worker keeps
// calling its task until it reports false, and then goes back to sleep.
type Task func(Worker) (bool, error)

type Worker interface {
	Start()
	Status() WorkerStatus
	WakeupChan() WakeupChan
	Label() string
	Sleep() bool
	Close()
}

type taskWorker struct {
	label         string
	task          Task
	wakeupChan    WakeupChan
	currentStatus WorkerStatus
}

func NewWorker(label string, task Task) *taskWorker {
	return &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WakeupChan),
	}
}

// Start runs the workers task until it reports that no work
// remains, sleeps until woken by the owning pool, and repeats. A
// task error is logged and drops the worker out of its loop.
func (worker *taskWorker) Start() {
	worker.currentStatus = WORKING
	for {
		for {
			didWork, err := worker.task(worker)
			if err != nil {
				log.Emit(logger.ERROR, "Worker %s task reported error (%T): %v\n", worker.label, err, err)
				worker.currentStatus = FINISHED
				return
			}

			if !didWork {
				break
			}
		}

		if !worker.Sleep() {
			return
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WakeupChan {
	return worker.wakeupChan
}

func (worker *taskWorker) Label() string {
	return worker.label
}

// Close closes the Worker by closing the WakeupChan. Note that this
// does not interrupt a currently running task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Sleep puts a worker to sleep until its wakeupChan is signalled
// from another goroutine. Returns false if the wakeup channel was
// closed, indicating the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus = SLEEPING

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = WORKING
	} else {
		worker.currentStatus = FINISHED
	}

	return isAlive
}
