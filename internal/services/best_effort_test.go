package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish", task.Name())
	}
}

func TestBestEffortRecordsFailure(t *testing.T) {
	runner := NewBestEffort(time.Second, nil)
	boom := errors.New("smtp refused")
	task := runner.Go(context.Background(), "notify.email", func(context.Context) error { return boom })
	waitTask(t, task)
	if !errors.Is(task.Err(), boom) {
		t.Fatalf("expected task error, got %v", task.Err())
	}
}

func TestBestEffortRecoversPanics(t *testing.T) {
	runner := NewBestEffort(time.Second, nil)
	task := runner.Go(context.Background(), "notify.sms", func(context.Context) error { panic("nil template") })
	waitTask(t, task)
	if task.Err() == nil {
		t.Fatalf("expected panic to surface as task error")
	}
}

func TestBestEffortOutlivesCallerContext(t *testing.T) {
	runner := NewBestEffort(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	task := runner.Go(ctx, "notify.email", func(taskCtx context.Context) error {
		<-release
		return taskCtx.Err()
	})
	cancel()
	close(release)
	waitTask(t, task)
	if task.Err() != nil {
		t.Fatalf("task must not observe caller cancellation, got %v", task.Err())
	}
}

func TestBestEffortAppliesTimeout(t *testing.T) {
	runner := NewBestEffort(20*time.Millisecond, nil)
	task := runner.Go(context.Background(), "notify.slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	waitTask(t, task)
	if !errors.Is(task.Err(), context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", task.Err())
	}
}

func TestBestEffortWait(t *testing.T) {
	runner := NewBestEffort(time.Second, nil)
	release := make(chan struct{})
	runner.Go(context.Background(), "blocked", func(context.Context) error {
		<-release
		return nil
	})

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := runner.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to time out, got %v", err)
	}

	close(release)
	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
