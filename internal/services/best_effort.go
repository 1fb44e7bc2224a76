package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sneakvault/orders/internal/platform/requestctx"
)

const defaultBestEffortTimeout = 30 * time.Second

// BestEffort runs side effects that must never fail or delay the operation that triggered them.
// Each task runs on its own goroutine with a context detached from the caller's cancellation.
type BestEffort struct {
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// Task is a handle on a scheduled side effect. Nothing in the request path waits on it.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// NewBestEffort builds a runner. A non-positive timeout uses 30s.
func NewBestEffort(timeout time.Duration, logger *zap.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = defaultBestEffortTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{timeout: timeout, logger: logger}
}

// Go schedules fn. Errors and panics are logged and recorded on the returned Task.
func (b *BestEffort) Go(ctx context.Context, name string, fn func(context.Context) error) *Task {
	task := &Task{name: name, done: make(chan struct{})}
	if fn == nil {
		close(task.done)
		return task
	}
	logger := requestctx.LoggerOr(ctx, b.logger)
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(task.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("best effort task %s panicked: %v", name, r)
				logger.Error("best effort task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			task.err = err
			logger.Warn("best effort task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
		}
	}()
	return task
}

// Wait blocks until every scheduled task finished or ctx is done.
func (b *BestEffort) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's failure. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Name identifies the task in logs.
func (t *Task) Name() string { return t.name }
