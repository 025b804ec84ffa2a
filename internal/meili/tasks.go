// ABOUTME: Bounded polling helper for asynchronous Meilisearch tasks.
// ABOUTME: Polls at a fixed interval until a terminal status or the wait bound.

package meili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTaskWaitTimeout is returned when a task is still pending at the bound.
var ErrTaskWaitTimeout = errors.New("timed out waiting for task")

// Default polling parameters for WaitForTask.
const (
	DefaultTaskWaitTimeout  = 5 * time.Second
	DefaultTaskPollInterval = 50 * time.Millisecond
)

// Task is the subset of a task object the poller inspects.
type Task struct {
	UID    int64  `json:"uid"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Terminal reports whether the task has finished.
func (t Task) Terminal() bool {
	switch t.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// WaitOptions bounds a WaitForTask call.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// WaitForTask polls /tasks/{uid} until the task is terminal and returns the
// final task object.
func (c *Client) WaitForTask(ctx context.Context, uid int64, opts WaitOptions) (json.RawMessage, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskWaitTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultTaskPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	path := fmt.Sprintf("/tasks/%d", uid)
	for {
		raw, err := c.Get(ctx, path, nil)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return nil, fmt.Errorf("%w %d after %s", ErrTaskWaitTimeout, uid, timeout)
			}
			return nil, err
		}

		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("decoding task %d: %w", uid, err)
		}
		if task.Terminal() {
			c.logger.Debug("task finished", "uid", uid, "status", task.Status)
			return raw, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w %d after %s (last status %q)", ErrTaskWaitTimeout, uid, timeout, task.Status)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
