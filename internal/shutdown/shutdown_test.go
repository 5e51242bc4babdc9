package shutdown

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_ShutdownOnce(t *testing.T) {
	m := New(context.Background())

	var calls atomic.Int32
	m.AddCleanup(func(string) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown("test")
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("cleanup called %d times, want 1", n)
	}
}

func TestManager_CleanupOrderAndReason(t *testing.T) {
	m := New(context.Background())

	var order []int
	var reasons []string
	for i := 1; i <= 3; i++ {
		i := i
		m.AddCleanup(func(reason string) {
			order = append(order, i)
			reasons = append(reasons, reason)
		})
	}

	m.Shutdown("fatal:stream")

	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("order = %v", order)
	}
	if reasons[0] != "fatal:stream" || m.Reason() != "fatal:stream" {
		t.Errorf("reason = %q / %q", reasons[0], m.Reason())
	}
}

func TestManager_ContextCancelledBeforeCleanups(t *testing.T) {
	m := New(context.Background())

	var cancelledFirst bool
	m.AddCleanup(func(string) {
		cancelledFirst = m.Context().Err() != nil
	})

	if m.Context().Err() != nil {
		t.Fatal("context cancelled before shutdown")
	}
	m.Shutdown("test")

	if !cancelledFirst {
		t.Error("cleanup ran before the context was cancelled")
	}
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestManager_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := New(parent)
	cancel()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not propagated")
	}
	if m.Reason() != "" {
		t.Error("parent cancellation triggered shutdown")
	}
}

func TestManager_StartThenShutdown(t *testing.T) {
	m := New(context.Background())
	m.Start()
	m.Shutdown("manual")
	if m.Reason() != "manual" {
		t.Errorf("Reason() = %q", m.Reason())
	}
}
