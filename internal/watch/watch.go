// Package watch follows a queued task through its status transitions.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/certgen/internal/queue"
	"github.com/dyluth/certgen/internal/task"
)

// DefaultInterval is the polling interval used when none is given.
const DefaultInterval = 200 * time.Millisecond

// Source reads task state. *queue.Client implements it.
type Source interface {
	Status(ctx context.Context, taskID string) (task.Status, error)
	GetResult(ctx context.Context, taskID string) (task.Result, error)
}

// Follow polls taskID until it reaches a terminal status or timeout passes,
// calling onChange once for every status it observes, in order. It returns
// the terminal result, task.ErrTimeout, or task.ErrUnknownTask if the task
// does not exist (or its result expired) when polling starts.
func Follow(ctx context.Context, src Source, taskID string, interval, timeout time.Duration, onChange func(task.Status)) (task.Result, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	var last task.Status
	seen := false
	for {
		status, err := src.Status(ctx, taskID)
		switch {
		case queue.IsNotFound(err):
			if !seen {
				return task.Result{}, fmt.Errorf("%w: %s", task.ErrUnknownTask, taskID)
			}
			// Expired between polls; the last status is all there is.
			return task.Result{TaskID: taskID, Status: last}, nil
		case err != nil:
			return task.Result{}, fmt.Errorf("failed to poll task status: %w", err)
		}

		seen = true
		if status != last {
			last = status
			if onChange != nil {
				onChange(status)
			}
		}
		if status.Terminal() {
			return src.GetResult(ctx, taskID)
		}

		select {
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		case <-timeoutCh:
			return task.Result{}, task.ErrTimeout
		case <-ticker.C:
		}
	}
}
