package ardlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardlink/go-ardlink/logger"
)

// TaskFunc performs one iteration of a task loop managed by the TaskManager.
// It returns true to keep running, or false to stop the goroutine.
type TaskFunc func() bool

// TaskLineFunc processes one received line within a consumer task. It
// returns true to keep consuming, or false to stop the goroutine.
type TaskLineFunc func(line string) bool

// TaskManager supervises the lifecycle of protocol goroutines.
//
// It provides a structured way to start, stop, and wait for goroutines with
// panic protection. Cancellation is context-driven: Stop signals all running
// tasks, and Wait blocks until they terminate, after which the manager can
// start tasks again (used across reconnect cycles).
type TaskManager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protects ctx and cancel
	taskMu  sync.RWMutex // protects task creation during Wait()
}

// NewTaskManager creates a TaskManager with ctx as the parent context.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// getContext safely returns the current context.
func (mgr *TaskManager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start launches a named goroutine running taskFunc in a loop.
//
// taskFunc returns true to continue running, false to stop the goroutine.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(taskFunc)
	})

	return starter.waitForStart()
}

// StartConsumer launches a named goroutine that feeds lines from input to
// taskFunc until the channel closes, the context is cancelled, or taskFunc
// returns false.
func (mgr *TaskManager) StartConsumer(name string, taskFunc TaskLineFunc, input <-chan string) error {
	mgr.logger.Debug("start consumer task", "name", name)

	if input == nil {
		return fmt.Errorf("ardlink: input channel is nil")
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case line, ok := <-input:
				if !ok {
					mgr.logger.Debug("consumer input channel closed", "name", name)
					return
				}
				if !mgr.callWithRecoverBool(name, func() bool { return taskFunc(line) }) {
					return
				}
			}
		}
	})

	return starter.waitForStart()
}

// StartInterval launches a named goroutine executing taskFunc at the given
// interval. If runNow is true, taskFunc is executed once before the first
// tick. The returned ticker stops the interval when no longer needed.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("ardlink: invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)

	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("ardlink: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow {
		if !mgr.callWithRecoverBool(name, taskFunc) {
			cleanup()
			mgr.logger.Debug("interval task terminated by first run", "name", name)
			return ticker, nil
		}
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return nil, err
	}

	starter.startTask(func() {
		defer cleanup()

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// StopInterval stops the interval task with the given name.
func (mgr *TaskManager) StopInterval(name string) error {
	if val, ok := mgr.tickers.LoadAndDelete(name); ok {
		ticker, ok := val.(*time.Ticker)
		if ok {
			ticker.Stop()
			return nil
		}

		return fmt.Errorf("ardlink: ticker %s is not a *time.Ticker", name)
	}

	return fmt.Errorf("ardlink: ticker %s not found", name)
}

// Stop signals all running goroutines to terminate.
func (mgr *TaskManager) Stop() {
	mgr.tickers.Range(func(key, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait blocks until all goroutines terminate, then rearms the manager so
// tasks can be started again.
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

// callWithRecoverBool calls fn with panic protection.
func (mgr *TaskManager) callWithRecoverBool(name string, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}

// runTaskLoop runs a task function in a loop with context cancellation.
func (mgr *TaskManager) runTaskLoop(taskFunc func() bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}

// taskStarter encapsulates the common startup sequence for all tasks.
type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan error
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	select {
	case <-mgr.getContext().Done():
		return nil, fmt.Errorf("ardlink: task manager already stopped")
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		s.mgr.count.Add(1)
		s.started <- nil

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

func (s *taskStarter) waitForStart() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			return fmt.Errorf("ardlink: failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("ardlink: timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("ardlink: context cancelled while starting %s", s.name)
	}
}
