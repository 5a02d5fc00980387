package worker_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landfall/pkg/logger"
	"landfall/pkg/worker"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

func TestWorkerDrainsQueuedWorkBeforeSleeping(t *testing.T) {
	var remaining int32 = 3
	var executed int32

	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.NewWorker("test-worker", func(w worker.Worker) (bool, error) {
		if atomic.AddInt32(&remaining, -1) < 0 {
			return false, nil
		}
		atomic.AddInt32(&executed, 1)
		return true, nil
	})))

	require.NoError(t, pool.Start())
	defer pool.Close()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&executed) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestWakeupRunsTaskAgain(t *testing.T) {
	var runs int32

	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.NewWorker("test-worker", func(w worker.Worker) (bool, error) {
		atomic.AddInt32(&runs, 1)
		return false, nil
	})))

	require.NoError(t, pool.Start())
	defer pool.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, pool.WakeupWorkers())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestTaskErrorStopsWorker(t *testing.T) {
	var runs int32

	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.NewWorker("test-worker", func(w worker.Worker) (bool, error) {
		atomic.AddInt32(&runs, 1)
		return true, errors.New("task exploded")
	})))

	require.NoError(t, pool.Start())
	pool.Wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestPoolLifecycleGuards(t *testing.T) {
	pool := worker.NewWorkerPool()

	assert.Error(t, pool.WakeupWorkers(), "wakeup before start must be refused")

	require.NoError(t, pool.PushWorker(worker.NewWorker("test-worker", func(worker.Worker) (bool, error) {
		return false, nil
	})))
	require.NoError(t, pool.Start())

	assert.Error(t, pool.Start(), "double start must be refused")
	assert.Error(t, pool.PushWorker(worker.NewWorker("late", nil)), "push after start must be refused")

	pool.Close()
}
