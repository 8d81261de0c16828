package turn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTryAcquire(t *testing.T) {
	m := NewMutexManager()
	if err := m.TryAcquire(); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	if !m.InFlight() {
		t.Error("expected in flight")
	}
	if err := m.TryAcquire(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second TryAcquire = %v, want ErrBusy", err)
	}
	m.Release()
	if m.InFlight() {
		t.Error("expected idle after Release")
	}
	if err := m.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire after Release: %v", err)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	m := NewMutexManager()
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	m := NewMutexManager()
	m.Release()
	if err := m.TryAcquire(); err != nil {
		t.Fatal(err)
	}
}
