package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type blockingRunner struct{ started atomic.Int32 }

func (b *blockingRunner) Run(ctx context.Context) error {
	b.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type failingRunner struct{ err error }

func (f failingRunner) Run(context.Context) error { return f.err }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func TestServiceFailsFastOnDependency(t *testing.T) {
	runner := &blockingRunner{}
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: []dependency{{name: "database", ping: fakePinger{err: errors.New("down")}}},
		Components:   []component{{name: "pool", run: runner}},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness error")
	}
	if runner.started.Load() != 0 {
		t.Fatalf("components must not start before dependencies are ready")
	}
}

func TestServiceStopsAllComponentsWhenOneFails(t *testing.T) {
	blocking := &blockingRunner{}
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Components: []component{
			{name: "pool", run: blocking},
			{name: "notifications", run: failingRunner{err: errors.New("subscription gone")}},
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || err.Error() != "notifications: subscription gone" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("service did not stop after component failure")
	}
}

func TestServiceReturnsContextErrorOnShutdown(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Components: []component{{name: "pool", run: &blockingRunner{}}, {name: "analytics"}},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewServiceRequiresComponents(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger(), Components: []component{{name: "empty"}}}); err == nil {
		t.Fatalf("expected error without runnable components")
	}
}
