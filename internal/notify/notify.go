// Package notify carries short-lived user notifications (toasts).
package notify

import (
	"sync"
	"time"
)

type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "success"
}

type Notification struct {
	Level   Level
	Message string
	At      time.Time
}

// Notifier receives user-facing outcomes of actions.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Success(msg string) { f(Notification{Level: LevelSuccess, Message: msg, At: time.Now()}) }
func (f Func) Error(msg string)   { f(Notification{Level: LevelError, Message: msg, At: time.Now()}) }

// Discard drops everything.
var Discard Notifier = Func(func(Notification) {})

// Recorder keeps every notification in order.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Success(msg string) { r.add(LevelSuccess, msg) }
func (r *Recorder) Error(msg string)   { r.add(LevelError, msg) }

func (r *Recorder) add(l Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: l, Message: msg, At: time.Now()})
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Queue holds toasts until they expire. It is not safe for concurrent use; the TUI owns it.
type Queue struct {
	TTL   time.Duration
	Max   int
	items []Notification
}

func NewQueue(ttl time.Duration, max int) *Queue {
	return &Queue{TTL: ttl, Max: max}
}

func (q *Queue) Push(n Notification) {
	q.items = append(q.items, n)
	if q.Max > 0 && len(q.items) > q.Max {
		q.items = q.items[len(q.items)-q.Max:]
	}
}

// Prune drops expired toasts and reports whether any are left.
func (q *Queue) Prune(now time.Time) bool {
	kept := q.items[:0]
	for _, n := range q.items {
		if now.Sub(n.At) < q.TTL {
			kept = append(kept, n)
		}
	}
	q.items = kept
	return len(q.items) > 0
}

func (q *Queue) Items() []Notification { return q.items }
