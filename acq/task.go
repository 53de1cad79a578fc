package acq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-acq400/logger"
)

// TaskFunc is one iteration of a task managed by the TaskManager.
// It should return true to run again, or false to stop the goroutine.
//
// The context passed to the function is cancelled when the manager stops.
type TaskFunc func(ctx context.Context) bool

// TaskManager manages the lifecycle of background goroutines (tasks).
//
// Tasks started by Start run in a loop until their TaskFunc returns false or
// Stop is called. Wait blocks until every task has returned, after which the
// manager can be reused.
//
//	taskMgr := acq.NewTaskManager(ctx, logger)
//	_ = taskMgr.Start("statusMonitor", func(ctx context.Context) bool {
//	    // ... one poll ...
//	    return true
//	})
//	taskMgr.Stop()
//	taskMgr.Wait()
type TaskManager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewTaskManager creates a new TaskManager with ctx as the parent context.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *TaskManager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine running taskFunc in a loop.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("start task", "name", name)

	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		return fmt.Errorf("task manager already stopped, can't start %s", name)
	default:
	}

	started := make(chan struct{})

	mgr.taskMu.RLock()
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug(name+" task terminated", "task_count", mgr.TaskCount())
		}()

		mgr.runTaskLoop(ctx, name, taskFunc)
	}()
	mgr.taskMu.RUnlock()

	select {
	case <-started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// Stop signals all running goroutines to terminate.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate and re-arms the manager.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

// runTaskLoop runs a task function in a loop until it returns false or ctx is done.
// A panicking task is logged and stopped.
func (mgr *TaskManager) runTaskLoop(ctx context.Context, name string, taskFunc TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc(ctx) {
				return
			}
		}
	}
}
