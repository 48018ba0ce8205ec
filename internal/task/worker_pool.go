package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// HandlerFunc processes one task id.
type HandlerFunc func(ctx context.Context, id int64) error

// WorkerPool manages a pool of worker goroutines that process task ids
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// taskQueue provides read access to the ids to be processed
	taskQueue TaskQueueReader

	// workerCount is the number of concurrent workers to start
	workerCount int

	handler HandlerFunc

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is passed to the handler and cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called when the handler fails or panics.
	// If nil, errors are only logged.
	errorHandler func(id int64, err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(taskQueue TaskQueueReader, handler HandlerFunc, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		taskQueue:   taskQueue,
		workerCount: workerCount,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler allows setting a custom error handler for task failures.
// It must be called before Start.
func (p *WorkerPool) SetErrorHandler(handler func(id int64, err error)) {
	p.errorHandler = handler
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for the workers to drain the queue, which the caller must have
// closed, and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.cancel()
	p.logger.Info("worker pool stopped")
}

// Abort cancels in-flight work and waits for the workers to exit without
// draining the queue.
func (p *WorkerPool) Abort() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool aborted")
}

func (p *WorkerPool) worker(workerID int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", "worker_id", workerID)

	ids := p.taskQueue.GetChannel()
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", workerID)
			return
		case id, ok := <-ids:
			if !ok {
				p.logger.Debug("task channel closed, stopping worker", "worker_id", workerID)
				return
			}
			p.execute(id, workerID)
		}
	}
}

func (p *WorkerPool) execute(id int64, workerID int) {
	log := p.logger.With("task_id", id, "worker_id", workerID)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in task handler", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic processing task %d: %v", id, r)
			}
		}()
		return p.handler(p.ctx, id)
	}()

	if err == nil {
		return
	}
	log.Error("task execution failed", "error", err)
	if p.errorHandler != nil {
		p.errorHandler(id, err)
	}
}
