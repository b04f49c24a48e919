package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(calls *atomic.Int32, v any) FetchFunc {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return v, nil
	}
}

// blocking returns a fetch that signals started and waits for release before answering v.
func blocking(v any) (fn FetchFunc, started <-chan struct{}, release func()) {
	s := make(chan struct{}, 8)
	r := make(chan struct{})
	var once sync.Once
	fn = func(ctx context.Context) (any, error) {
		s <- struct{}{}
		select {
		case <-r:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fn, s, func() { once.Do(func() { close(r) }) }
}

func TestFetchServesFreshValueFromCache(t *testing.T) {
	c := New(Options{})
	var calls atomic.Int32
	ctx := context.Background()

	v, err := c.Fetch(ctx, "todos", counting(&calls, []string{"a"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v)

	_, err = c.Fetch(ctx, "todos", counting(&calls, []string{"b"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := New(Options{})
	var calls atomic.Int32
	ctx := context.Background()

	_, err := c.Fetch(ctx, "todos", counting(&calls, 1))
	require.NoError(t, err)
	assert.True(t, c.Invalidate("todos"))

	snap, ok := c.Peek("todos")
	require.True(t, ok)
	assert.False(t, snap.Fresh)
	assert.Equal(t, 1, snap.Value, "stale value stays readable until the refetch lands")

	v, err := c.Fetch(ctx, "todos", counting(&calls, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInvalidateIsIdempotent(t *testing.T) {
	c := New(Options{})
	var calls atomic.Int32
	ctx := context.Background()

	assert.False(t, c.Invalidate("missing"))

	_, err := c.Fetch(ctx, "todos", counting(&calls, 1))
	require.NoError(t, err)

	assert.True(t, c.Invalidate("todos"))
	assert.False(t, c.Invalidate("todos"))
	assert.False(t, c.Invalidate("todos"))

	_, err = c.Fetch(ctx, "todos", counting(&calls, 2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "many invalidations, one refetch")
}

func TestInvalidateDuringFlightMakesResultStale(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	fn, started, release := blocking("before write")

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "todos", fn)
		done <- err
	}()
	<-started
	assert.True(t, c.Invalidate("todos"), "request in flight at current version")
	release()
	require.NoError(t, <-done)

	snap, _ := c.Peek("todos")
	assert.Equal(t, "before write", snap.Value)
	assert.False(t, snap.Fresh)
}

func TestFailedRefetchLeavesValue(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.Fetch(ctx, "todos", func(context.Context) (any, error) { return "v1", nil })
	require.NoError(t, err)
	c.Invalidate("todos")

	_, err = c.Fetch(ctx, "todos", func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	snap, ok := c.Peek("todos")
	require.True(t, ok)
	assert.Equal(t, "v1", snap.Value)
	assert.ErrorIs(t, snap.Err, boom)
}

func TestConcurrentReadsShareOneRequest(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	var calls atomic.Int32
	inner, started, release := blocking("shared")
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return inner(ctx)
	}

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Fetch(ctx, "todos", fn)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	<-started
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, []any{"shared", "shared", "shared"}, results)
}

func TestLastDispatchedResponseWins(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	slow, started, release := blocking("old")

	done := make(chan any, 1)
	go func() {
		v, err := c.Refetch(ctx, "health", slow)
		assert.NoError(t, err)
		done <- v
	}()
	<-started

	v, err := c.Refetch(ctx, "health", func(context.Context) (any, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	release()
	assert.Equal(t, "new", <-done, "superseded response reports the winning value")

	snap, _ := c.Peek("health")
	assert.Equal(t, "new", snap.Value)
}

func TestClearDropsLateResponses(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	fn, started, release := blocking("alice's todos")

	done := make(chan error, 1)
	go func() {
		_, err := c.Refetch(ctx, "todos", fn)
		done <- err
	}()
	<-started
	c.Clear()
	release()

	assert.ErrorIs(t, <-done, ErrDiscarded)
	_, ok := c.Peek("todos")
	assert.False(t, ok)
}

func TestCancelledRequestIsNotApplied(t *testing.T) {
	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(context.Context) (any, error) {
		cancel()
		return "late", nil
	}

	_, err := c.Fetch(ctx, "todos", fn)
	assert.ErrorIs(t, err, context.Canceled)

	snap, _ := c.Peek("todos")
	assert.False(t, snap.HasValue)
}

func TestSetSupersedesInFlightRequest(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	fn, started, release := blocking("fetched")

	done := make(chan any, 1)
	go func() {
		v, _ := c.Refetch(ctx, "currentUser", fn)
		done <- v
	}()
	<-started
	c.Set("currentUser", "seeded")
	release()

	assert.Equal(t, "seeded", <-done)
	snap, _ := c.Peek("currentUser")
	assert.True(t, snap.Fresh)
	assert.Equal(t, "seeded", snap.Value)
}

func TestRetries(t *testing.T) {
	permanent := errors.New("404")
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int32
		wantErr   bool
	}{
		{name: "recovers", failures: 2, err: errors.New("502"), wantCalls: 3},
		{name: "gives up", failures: 10, err: errors.New("502"), wantCalls: 4, wantErr: true},
		{name: "permanent", failures: 10, err: permanent, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{
				Retries:   3,
				Retryable: func(err error) bool { return !errors.Is(err, permanent) },
				BackOff:   func() backoff.BackOff { return &backoff.ZeroBackOff{} },
			})
			var calls atomic.Int32
			fn := func(context.Context) (any, error) {
				if int(calls.Add(1)) <= tt.failures {
					return nil, tt.err
				}
				return "ok", nil
			}

			v, err := c.Fetch(context.Background(), "todos", fn)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", v)
		})
	}
}

func TestSubscribe(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	var mu sync.Mutex
	var todos, all []Event
	cancel := c.Subscribe("todos", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		todos = append(todos, ev)
	})
	c.Subscribe("", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, ev)
	})

	_, _ = c.Fetch(ctx, "todos", func(context.Context) (any, error) { return 1, nil })
	c.Invalidate("todos")
	c.Set("health", "ok")
	cancel()
	c.Clear()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, todos, 2)
	assert.Equal(t, Updated, todos[0].Kind)
	assert.Equal(t, Invalidated, todos[1].Kind)
	assert.EqualValues(t, 1, todos[1].Version)

	kinds := map[Key][]EventKind{}
	for _, ev := range all {
		kinds[ev.Key] = append(kinds[ev.Key], ev.Kind)
	}
	assert.Equal(t, []EventKind{Updated, Invalidated, Removed}, kinds["todos"])
	assert.Equal(t, []EventKind{Updated, Removed}, kinds["health"])
}

func TestTypedHelpers(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	n, err := Get(ctx, c, "n", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = Reload(ctx, c, "n", func(context.Context) (int, error) { return 8, nil })
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = Get(ctx, c, "n", func(context.Context) (string, error) { return "x", nil })
	assert.Error(t, err, "fresh int entry read as string")
}
