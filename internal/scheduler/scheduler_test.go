package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunAtStartExecutesImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunAtStart: true}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未及时执行首个周期")
	}
	if ticks.Load() != 1 {
		t.Fatalf("期望 1 次执行, 实际 %d", ticks.Load())
	}
}

func TestTickErrorDoesNotStopLoop(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("出错后循环应继续运行")
	}
	if ticks.Load() < 3 {
		t.Fatalf("期望至少 3 次执行, 实际 %d", ticks.Load())
	}
}

func TestStartupDelayRespectsCancellation(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消时应返回 context.Canceled, 实际 %v", err)
	}
}

func TestNewPanicsOnInvalidInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正的间隔应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
