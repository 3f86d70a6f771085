package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
)

func TestWriter_RunsInOrder(t *testing.T) {
	// Arrange
	w := New(zap.NewNop())
	defer w.Close()

	var mu sync.Mutex
	var order []int

	// Act
	for i := 0; i < 10; i++ {
		w.Submit("ordered", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// Assert
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if len(order) != 10 {
		t.Errorf("ran %d writes, want 10", len(order))
	}
}

func TestWriter_FailureIsReportedOutOfBand(t *testing.T) {
	// Arrange
	var hookOp string
	var hookErr error
	w := New(zap.NewNop(), WithErrorHook(func(op string, err error) {
		hookOp, hookErr = op, err
	}))
	defer w.Close()

	before := testutil.ToFloat64(metrics.WriteFailures.WithLabelValues("failing_op"))
	boom := errors.New("boom")

	// Act - Submit accepts the write; the failure only shows up later
	if err := w.Submit("failing_op", func(context.Context) error { return boom }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// Assert
	if hookOp != "failing_op" || !errors.Is(hookErr, boom) {
		t.Errorf("hook got (%q, %v), want (failing_op, boom)", hookOp, hookErr)
	}
	after := testutil.ToFloat64(metrics.WriteFailures.WithLabelValues("failing_op"))
	if after-before != 1 {
		t.Errorf("write failure counter delta = %v, want 1", after-before)
	}
}

func TestWriter_TimeoutAppliesToEachWrite(t *testing.T) {
	w := New(zap.NewNop(), WithTimeout(10*time.Millisecond))
	defer w.Close()

	var got error
	w.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("write ctx error = %v, want deadline exceeded", got)
	}
}

func TestWriter_CloseDrainsAndRejects(t *testing.T) {
	// Arrange
	w := New(zap.NewNop())
	ran := false
	w.Submit("before_close", func(context.Context) error {
		ran = true
		return nil
	})

	// Act
	w.Close()
	w.Close()
	err := w.Submit("after_close", func(context.Context) error {
		t.Error("write after close must not run")
		return nil
	})

	// Assert
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after close error = %v, want %v", err, ErrClosed)
	}
	if !ran {
		t.Error("queued write did not run before Close returned")
	}
	if err := w.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after close error = %v, want %v", err, ErrClosed)
	}
}

func TestWriter_SubmitBlocksWhenQueueIsFull(t *testing.T) {
	// Arrange
	w := New(zap.NewNop(), WithQueueSize(1))
	defer w.Close()

	noop := func(context.Context) error { return nil }
	started := make(chan struct{})
	release := make(chan struct{})
	if err := w.Submit("hold", func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	if err := w.Submit("queued", noop); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Act
	submitted := make(chan error, 1)
	go func() { submitted <- w.Submit("waiting", noop) }()

	// Assert
	select {
	case <-submitted:
		t.Fatal("Submit returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		if err != nil {
			t.Errorf("Submit() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit still blocked after the queue drained")
	}
}
