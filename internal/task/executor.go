package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Executor.Result when no result arrived in time.
var ErrTimeout = errors.New("timed out waiting for task result")

// ErrUnknownTask is returned for handles the executor has no record of.
var ErrUnknownTask = errors.New("unknown task")

// Handle identifies a submitted task.
type Handle struct {
	TaskID        string `json:"task_id"`
	CertificateID string `json:"certificate_id"`
}

// Executor runs tasks somewhere and hands back their results.
type Executor interface {
	Submit(ctx context.Context, t Task) (Handle, error)
	Result(ctx context.Context, h Handle, timeout time.Duration) (Result, error)
}

// Inline runs each task on the caller's goroutine during Submit. Results
// are kept until read once.
type Inline struct {
	runner *Runner

	mu      sync.Mutex
	results map[string]Result
}

// NewInline creates an inline executor.
func NewInline(runner *Runner) *Inline {
	return &Inline{runner: runner, results: make(map[string]Result)}
}

// Submit runs t to completion before returning.
func (e *Inline) Submit(ctx context.Context, t Task) (Handle, error) {
	res := e.runner.Run(ctx, t)

	e.mu.Lock()
	e.results[t.ID] = res
	e.mu.Unlock()

	return Handle{TaskID: t.ID, CertificateID: t.Record.CertificateID}, nil
}

// Result returns and forgets the result for h. The timeout is irrelevant
// because the result always exists once Submit has returned.
func (e *Inline) Result(_ context.Context, h Handle, _ time.Duration) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, ok := e.results[h.TaskID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTask, h.TaskID)
	}
	delete(e.results, h.TaskID)
	return res, nil
}

// RunSync submits t and waits for its result.
func RunSync(ctx context.Context, exec Executor, t Task, timeout time.Duration) (Result, error) {
	h, err := exec.Submit(ctx, t)
	if err != nil {
		return Result{}, fmt.Errorf("failed to submit task: %w", err)
	}
	return exec.Result(ctx, h, timeout)
}
