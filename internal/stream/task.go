package stream

import (
	"context"
	"time"
)

type taskKey struct{}

// task is a supervised goroutine. Its context carries the task itself so
// teardown can recognise when it is running on that goroutine and skip
// waiting for it.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func startTask(parent context.Context, name string, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	ctx = context.WithValue(ctx, taskKey{}, t)
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return t
}

func currentTask(ctx context.Context) *task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(taskKey{}).(*task)
	return t
}

// wait blocks until the task exits or timeout elapses. It reports whether
// the task finished.
func (t *task) wait(timeout time.Duration) bool {
	if t == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}
