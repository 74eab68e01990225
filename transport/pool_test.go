package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mini-xpc/protocol"
)

func pairFactory(t *testing.T, made *atomic.Int32) func(context.Context) (Transport, error) {
	return func(context.Context) (Transport, error) {
		a, b, err := Pair(protocol.Options{})
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { b.Close() })
		made.Add(1)
		return a, nil
	}
}

func TestPoolReuse(t *testing.T) {
	var made atomic.Int32
	p := NewPool(2, pairFactory(t, &made))
	defer p.Close()
	ctx := context.Background()

	first, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(first, false)
	second, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if second != first {
		t.Error("idle transport was not reused")
	}
	if made.Load() != 1 {
		t.Errorf("factory called %d times, want 1", made.Load())
	}

	p.Put(second, true)
	third, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if third == second || made.Load() != 2 {
		t.Errorf("broken transport was reused (made %d)", made.Load())
	}
	p.Put(third, false)
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	var made atomic.Int32
	p := NewPool(1, pairFactory(t, &made))
	defer p.Close()

	held, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get at capacity = %v, want context.DeadlineExceeded", err)
	}

	time.AfterFunc(20*time.Millisecond, func() { p.Put(held, false) })
	got, err := p.Get(context.Background())
	if err != nil || got != held {
		t.Errorf("Get after Put = %v, %v", got, err)
	}
	p.Put(got, false)
}

func TestPoolFactoryError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPool(1, func(context.Context) (Transport, error) { return nil, boom })
	defer p.Close()
	if _, err := p.Get(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Get = %v, want factory error", err)
	}
	// the failed dial must not use up the slot
	if _, err := p.Get(context.Background()); !errors.Is(err, boom) {
		t.Errorf("second Get = %v, want factory error", err)
	}
}

func TestPoolClose(t *testing.T) {
	var made atomic.Int32
	p := NewPool(2, pairFactory(t, &made))
	tr, _ := p.Get(context.Background())
	p.Put(tr, false)
	p.Close()

	if _, err := p.Get(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Get after Close = %v, want ErrPoolClosed", err)
	}
	if _, err := tr.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("idle transport not closed: %v", err)
	}
}
