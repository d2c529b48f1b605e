package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work. Its error is delivered to whoever waits on the task.
type Task struct {
	ID string
	Fn func(context.Context) error
}

type job struct {
	task Task
	ctx  context.Context
	done chan<- error
}

// WorkerPool runs tasks on a fixed set of goroutines shared by all callers,
// bounding the parallelism of data file writes across concurrent saves.
type WorkerPool struct {
	name           string
	maxWorkers     int
	jobs           chan job
	logger         *zap.Logger
	wg             sync.WaitGroup
	stopOnce       sync.Once
	stopChan       chan struct{}
	activeWorkers  int32
	completedTasks uint64
	failedTasks    uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool creates a new worker pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxWorkers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		jobs:       make(chan job, cfg.QueueSize),
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}
	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", cfg.QueueSize))
	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case j := <-p.jobs:
			j.done <- p.run(j)
		}
	}
}

func (p *WorkerPool) run(j job) error {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	if err := j.ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := p.safeExecute(j)
	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Debug("Task failed",
			zap.String("pool", p.name),
			zap.String("task_id", j.task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	atomic.AddUint64(&p.completedTasks, 1)
	return nil
}

// safeExecute runs a task, turning a panic into an error
func (p *WorkerPool) safeExecute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.task.ID, r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", j.task.ID),
				zap.Any("panic", r))
		}
	}()
	return j.task.Fn(j.ctx)
}

// SubmitAndWait runs tasks on the pool and waits for all of them.
// The first failure cancels the tasks that have not started yet and is returned.
func (p *WorkerPool) SubmitAndWait(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, len(tasks))
	submitted := 0
	var firstErr error

submit:
	for _, task := range tasks {
		fn := task.Fn
		task.Fn = func(ctx context.Context) error {
			err := fn(ctx)
			if err != nil {
				cancel()
			}
			return err
		}
		select {
		case <-p.stopChan:
			firstErr = fmt.Errorf("worker pool '%s' is stopped", p.name)
			break submit
		case <-ctx.Done():
			firstErr = ctx.Err()
			break submit
		case p.jobs <- job{task: task, ctx: ctx, done: done}:
			submitted++
		}
	}
	if firstErr != nil {
		cancel()
	}

	for i := 0; i < submitted; i++ {
		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = err
				cancel()
			}
		case <-p.stopChan:
			// queued jobs are dropped by stopped workers
			return fmt.Errorf("worker pool '%s' stopped with tasks pending", p.name)
		}
	}
	return firstErr
}

// Stop stops the workers once their current task finishes.
// Callers must not submit after Stop.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.String("name", p.name))
		close(p.stopChan)

		finished := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			p.logger.Info("Worker pool stopped gracefully", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedTasks:    len(p.jobs),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueuedTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
}
