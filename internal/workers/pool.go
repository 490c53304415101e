// Package workers provides the bounded worker pool the API server runs
// backtests on: a fixed set of goroutines draining a task queue, with
// per-task timeouts and panic recovery so one bad run never takes the
// server down.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

// Execute runs the function.
func (f TaskFunc) Execute() error { return f() }

// Pool errors.
var (
	ErrPoolStopped = errors.New("workers: pool is stopped")
	ErrQueueFull   = errors.New("workers: task queue is full")
)

// PoolConfig tunes the pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns a pool sized to the machine with a queue
// deep enough that API submissions rarely bounce.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// PoolStats is a snapshot of the pool's counters.
type PoolStats struct {
	TasksSubmitted int64 `json:"tasks_submitted"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksTimeout   int64 `json:"tasks_timeout"`
	PanicRecovered int64 `json:"panic_recovered"`
}

// Pool is a fixed-size worker pool over a buffered task queue.
type Pool struct {
	logger    *zap.Logger
	config    *PoolConfig
	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	timedOut  int64
	panicked  int64
}

// NewPool creates a pool; a nil config gets the defaults.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers"),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers))

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(logger, task)
		}
	}
}

// runTask executes one task with panic containment and the configured
// timeout. A timed-out task keeps running on its goroutine; the worker
// just stops waiting for it, so a hung backtest cannot starve the pool.
func (p *Pool) runTask(logger *zap.Logger, task Task) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.panicked, 1)
				logger.Error("task panicked", zap.Any("panic", r))
				done <- fmt.Errorf("task panic: %v", r)
			}
		}()
		done <- task.Execute()
	}()

	timeout := p.config.TaskTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			logger.Debug("task failed", zap.Error(err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
	case <-time.After(timeout):
		atomic.AddInt64(&p.timedOut, 1)
		logger.Warn("task timed out", zap.Duration("timeout", timeout))
	case <-p.ctx.Done():
	}
}

// Submit enqueues a task without blocking; a full queue is an error the
// caller must handle.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a plain function.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop drains in-flight workers and shuts the pool down, waiting at
// most ShutdownTimeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		p.logger.Info("worker pool stopped", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return fmt.Errorf("workers: %s shutdown timed out", p.config.Name)
	}
}

// QueueLength returns the number of queued, unstarted tasks.
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&p.submitted),
		TasksCompleted: atomic.LoadInt64(&p.completed),
		TasksFailed:    atomic.LoadInt64(&p.failed),
		TasksTimeout:   atomic.LoadInt64(&p.timedOut),
		PanicRecovered: atomic.LoadInt64(&p.panicked),
	}
}
