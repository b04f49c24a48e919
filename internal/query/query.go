// Package query caches fetched resources under logical keys.
//
// Each key carries a version counter. Invalidate bumps it; a value is fresh only while the
// version it was fetched at equals the current one, so the next read after a write refetches.
// Every dispatched request gets a per-key sequence number and a response is applied only if no
// newer request for the key has already been applied (last response wins). Clear starts a new
// generation: responses dispatched before it are dropped.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// Key names a cached resource.
type Key string

// FetchFunc loads the value for a key.
type FetchFunc func(ctx context.Context) (any, error)

// ErrDiscarded is returned when a response arrived after the cache was cleared.
var ErrDiscarded = errors.New("response discarded")

// EventKind says what happened to a key.
type EventKind int

const (
	Updated EventKind = iota
	Invalidated
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Invalidated:
		return "invalidated"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers.
type Event struct {
	Key     Key
	Kind    EventKind
	Version uint64
}

// Options tune a Client.
type Options struct {
	// Retries is how many times a failed read is retried. Mutations never go through here.
	Retries int
	// Retryable filters errors worth retrying. Context errors are never retried.
	Retryable func(error) bool
	// BackOff builds the retry schedule; exponential by default.
	BackOff func() backoff.BackOff
	Logger  *log.Logger
	Now     func() time.Time
}

type entry struct {
	value     any
	hasValue  bool
	lastErr   error
	updatedAt time.Time

	version           uint64 // bumped by Invalidate
	fetchedVersion    uint64 // version the value was fetched at
	dispatchedVersion uint64 // version at the last dispatch
	dispatched        uint64 // sequence of the last dispatched request
	applied           uint64 // sequence of the applied response
}

func (e *entry) fresh() bool {
	return e.hasValue && e.fetchedVersion == e.version
}

// Client owns every cache entry of one session.
type Client struct {
	opts  Options
	group singleflight.Group

	mu         sync.Mutex
	entries    map[Key]*entry
	generation uint64
	subs       map[Key]map[int]func(Event)
	nextSub    int
}

// New creates an empty cache.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BackOff == nil {
		opts.BackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &Client{
		opts:    opts,
		entries: map[Key]*entry{},
		subs:    map[Key]map[int]func(Event){},
	}
}

// Fetch returns the cached value for key while it is fresh, and otherwise loads it with fn.
// Concurrent reads of the same stale key share a single request.
func (c *Client) Fetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	for {
		c.mu.Lock()
		e := c.entryLocked(key)
		if e.fresh() {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		flight := fmt.Sprintf("%s@%d.%d", key, c.generation, e.version)
		c.mu.Unlock()

		ch := c.group.DoChan(flight, func() (any, error) {
			return c.run(ctx, key, fn)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// A shared request can die with the context of the caller that started it.
		if res.Err != nil && isContextErr(res.Err) && ctx.Err() == nil {
			continue
		}
		return res.Val, res.Err
	}
}

// Refetch always dispatches a new request for key, bypassing freshness and sharing.
// Used for manual refresh and polling.
func (c *Client) Refetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	return c.run(ctx, key, fn)
}

func (c *Client) run(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.dispatched++
	seq := e.dispatched
	ver := e.version
	e.dispatchedVersion = ver
	gen := c.generation
	c.mu.Unlock()

	v, err := c.fetchWithRetry(ctx, key, fn)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.opts.Logger.Debug("response after clear dropped", "key", key, "seq", seq)
		return nil, ErrDiscarded
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.mu.Unlock()
		c.opts.Logger.Debug("response for cancelled request dropped", "key", key, "seq", seq)
		return nil, ctxErr
	}
	e = c.entryLocked(key)
	if err != nil {
		if seq > e.applied {
			e.lastErr = err
		}
		c.mu.Unlock()
		return nil, err
	}
	if seq < e.applied {
		// A newer request already landed; its value wins.
		cur := e.value
		c.mu.Unlock()
		c.opts.Logger.Debug("superseded response dropped", "key", key, "seq", seq, "applied", e.applied)
		return cur, nil
	}
	e.applied = seq
	e.value = v
	e.hasValue = true
	e.lastErr = nil
	e.fetchedVersion = ver
	e.updatedAt = c.opts.Now()
	ev := Event{Key: key, Kind: Updated, Version: e.version}
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	notify(subs, ev)
	return v, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	if c.opts.Retries <= 0 {
		return fn(ctx)
	}
	op := func() (any, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if isContextErr(err) || (c.opts.Retryable != nil && !c.opts.Retryable(err)) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.opts.BackOff()),
		backoff.WithMaxTries(uint(c.opts.Retries)+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.opts.Logger.Debug("retrying fetch", "key", key, "in", d, "err", err)
		}),
	)
}

// Invalidate marks key stale so the next read refetches. Invalidating a key that is already stale,
// with no request in flight for its current version, does nothing. It reports whether the version moved.
func (c *Client) Invalidate(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if e.version != e.fetchedVersion && e.dispatchedVersion != e.version {
		c.mu.Unlock()
		return false
	}
	e.version++
	ev := Event{Key: key, Kind: Invalidated, Version: e.version}
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	notify(subs, ev)
	return true
}

// Set stores value as the fresh value of key, superseding any request in flight.
func (c *Client) Set(key Key, value any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.dispatched++
	e.applied = e.dispatched
	e.value = value
	e.hasValue = true
	e.lastErr = nil
	e.fetchedVersion = e.version
	e.updatedAt = c.opts.Now()
	ev := Event{Key: key, Kind: Updated, Version: e.version}
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	notify(subs, ev)
}

// Remove drops a single key. Requests in flight for it still land in a fresh entry.
func (c *Client) Remove(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	subs := c.subscribersLocked(key)
	c.mu.Unlock()

	if ok {
		notify(subs, Event{Key: key, Kind: Removed})
	}
}

// Clear purges every entry. Responses to requests dispatched before the call are discarded.
func (c *Client) Clear() {
	c.mu.Lock()
	c.generation++
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = map[Key]*entry{}
	pending := make([][]func(Event), len(keys))
	for i, k := range keys {
		pending[i] = c.subscribersLocked(k)
	}
	c.mu.Unlock()

	for i, k := range keys {
		notify(pending[i], Event{Key: k, Kind: Removed})
	}
}

// Snapshot describes an entry without fetching.
type Snapshot struct {
	Value     any
	HasValue  bool
	Fresh     bool
	Version   uint64
	UpdatedAt time.Time
	Err       error // last failed read, cleared by the next success
}

// Peek returns the state of key; ok is false when nothing was ever read for it.
func (c *Client) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Value:     e.value,
		HasValue:  e.hasValue,
		Fresh:     e.fresh(),
		Version:   e.version,
		UpdatedAt: e.updatedAt,
		Err:       e.lastErr,
	}, true
}

// Subscribe calls fn on every event for key, or for all keys when key is empty.
// fn runs on the goroutine that caused the event and must not block.
func (c *Client) Subscribe(key Key, fn func(Event)) (cancel func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.subs[key] == nil {
		c.subs[key] = map[int]func(Event){}
	}
	c.subs[key][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs[key], id)
		c.mu.Unlock()
	}
}

func (c *Client) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Client) subscribersLocked(key Key) []func(Event) {
	var out []func(Event)
	for _, fn := range c.subs[key] {
		out = append(out, fn)
	}
	if key != "" {
		for _, fn := range c.subs[""] {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Get is Fetch with a typed result.
func Get[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	return typed[T](c.Fetch(ctx, key, erase(fn)))
}

// Reload is Refetch with a typed result.
func Reload[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	return typed[T](c.Refetch(ctx, key, erase(fn)))
}

func erase[T any](fn func(context.Context) (T, error)) FetchFunc {
	return func(ctx context.Context) (any, error) { return fn(ctx) }
}

func typed[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query: cached value is %T, not %T", v, zero)
	}
	return t, nil
}
