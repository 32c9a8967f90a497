package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/worker"
)

func TestProcessAll_RunsEachItemOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, domain string) (string, error) {
		calls.Add(1)
		if domain == "bad.example" {
			return "", errors.New("permanent")
		}
		return "ok:" + domain, nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"acme.com", "bad.example", "beta.io"}, fn, worker.Options{
		Workers:       2,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if out[0].Output != "ok:acme.com" || out[0].Index != 0 {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Err == nil || out[1].Err.Error() != "permanent" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
	if out[2].Output != "ok:beta.io" {
		t.Fatalf("unexpected out[2]: %#v", out[2])
	}
}

func TestProcessAll_ItemTimeout(t *testing.T) {
	t.Parallel()

	fn := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	out, err := worker.ProcessAll(context.Background(), []string{"slow.example"}, fn, worker.Options{
		Workers:     1,
		ItemTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(out[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", out[0].Err)
	}
	if out[0].Duration <= 0 {
		t.Fatalf("expected duration to be recorded")
	}
}

func TestProcessAll_RateLimit(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, s string) (string, error) { return s, nil }

	start := time.Now()
	_, err := worker.ProcessAll(context.Background(), []string{"a", "b", "c", "d"}, fn, worker.Options{
		Workers:      4,
		RateLimitRPS: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Burst of 1 at 20rps: the 4th item waits ~150ms.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected rate limiting, finished in %s", elapsed)
	}
}

func TestProcessAll_FailFastStops(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, domain string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		if domain == "bad.example" {
			return "", errors.New("boom")
		}
		t.Errorf("unexpected call for %q", domain)
		return "", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad.example", "good.example"}, fn, worker.Options{
		Workers:       1,
		FailurePolicy: worker.FailurePolicyFailFast,
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output on fail-fast, got %#v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestProcessAll_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := worker.ProcessAll(ctx, []string{"a"}, func(context.Context, string) (string, error) {
		return "", nil
	}, worker.Options{Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessAllWithCallback_CompletesInCompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	var firstCallbackInput atomic.Value
	firstCallbackInput.Store("")

	fn := func(_ context.Context, domain string) (string, error) {
		if domain == "slow.example" {
			close(startedSlow)
			<-releaseSlow
		}
		return domain, nil
	}

	var mu sync.Mutex
	var seen []string
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.ProcessAllWithCallback(
			context.Background(),
			[]string{"slow.example", "fast.example"},
			fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstCallbackInput.Store(res.Input)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if firstCallbackInput.Load().(string) == "fast.example" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := firstCallbackInput.Load().(string); got != "fast.example" {
		t.Fatalf("expected fast callback first, got %q", got)
	}

	close(releaseSlow)
	select {
	case err := <-doneErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"fast.example", "slow.example"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"acme.com"},
		func(_ context.Context, domain string) (string, error) {
			return domain, nil
		},
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
