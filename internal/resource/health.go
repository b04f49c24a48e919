package resource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
)

// DefaultHealthInterval is the auto-refresh period of the health screen.
const DefaultHealthInterval = 30 * time.Second

// Health backs the health dashboard. It needs no session.
type Health struct{ d Deps }

func NewHealth(d Deps) *Health { return &Health{d: d.withDefaults()} }

func (h *Health) Load(ctx context.Context) (model.HealthStatus, error) {
	st, err := query.Get(ctx, h.d.cache(), KeyHealth, h.d.API.Health)
	if err != nil {
		return st, loadFailed("load health", "Failed to load health status", err)
	}
	return st, nil
}

// Refresh always asks the backend; the newest dispatched answer wins.
func (h *Health) Refresh(ctx context.Context) (model.HealthStatus, error) {
	st, err := query.Reload(ctx, h.d.cache(), KeyHealth, h.d.API.Health)
	if err != nil {
		return st, loadFailed("load health", "Failed to load health status", err)
	}
	return st, nil
}

// HealthView is what the dashboard renders.
type HealthView struct {
	Status    model.HealthStatus
	HasStatus bool
	Healthy   bool
	CheckedAt time.Time
	Err       error
}

// View reads the cached status without a request.
func (h *Health) View() HealthView {
	snap, ok := h.d.cache().Peek(KeyHealth)
	if !ok {
		return HealthView{}
	}
	v := HealthView{CheckedAt: snap.UpdatedAt}
	if snap.Err != nil {
		v.Err = loadFailed("load health", "Failed to load health status", snap.Err)
		// A degraded answer is newer than the cached value, so it is what the dashboard shows.
		if st, ok := api.DegradedHealth(snap.Err); ok {
			v.Status, v.HasStatus = st, true
			return v
		}
	}
	if st, ok := snap.Value.(model.HealthStatus); ok && snap.HasValue {
		v.Status, v.HasStatus, v.Healthy = st, true, st.Healthy()
	}
	return v
}

// Ticker is the clock of a Poller. time.Ticker satisfies it through NewTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// PollResult is one finished health check.
type PollResult struct {
	Status model.HealthStatus
	Err    error
	At     time.Time
}

// Poller checks health once when started, then every interval while auto-refresh is on.
// Manual refreshes go through the same loop, so results arrive in dispatch order.
type Poller struct {
	health    *Health
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	onResult  func(PollResult)

	mu      sync.Mutex
	auto    bool
	control chan pollCmd
	running bool
}

type pollCmd int

const (
	cmdRefresh pollCmd = iota
	cmdAuto
)

type PollerOption func(*Poller)

// WithTicker replaces the wall clock, mostly for tests.
func WithTicker(fn func(time.Duration) Ticker) PollerOption {
	return func(p *Poller) { p.newTicker = fn }
}

// WithAutoRefresh sets the initial auto-refresh state; on by default.
func WithAutoRefresh(on bool) PollerOption {
	return func(p *Poller) { p.auto = on }
}

func NewPoller(h *Health, interval time.Duration, onResult func(PollResult), opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	p := &Poller{
		health:    h,
		interval:  interval,
		newTicker: NewTicker,
		onResult:  onResult,
		auto:      true,
		control:   make(chan pollCmd, 4),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var ErrPollerRunning = errors.New("poller already running")

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var ticker Ticker
	var tick <-chan time.Time
	arm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if p.Auto() {
			ticker = p.newTicker(p.interval)
			tick = ticker.C()
		}
	}
	arm()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			p.check(ctx)
		case cmd := <-p.control:
			switch cmd {
			case cmdRefresh:
				p.check(ctx)
			case cmdAuto:
				arm()
			}
		}
	}
}

func (p *Poller) check(ctx context.Context) {
	st, err := p.health.Refresh(ctx)
	if ctx.Err() != nil {
		return
	}
	if p.onResult != nil {
		p.onResult(PollResult{Status: st, Err: err, At: time.Now()})
	}
}

// Refresh asks the running loop for an immediate check.
func (p *Poller) Refresh() { p.send(cmdRefresh) }

func (p *Poller) Auto() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auto
}

// SetAuto turns periodic checks on or off. Turning them on restarts the interval.
func (p *Poller) SetAuto(on bool) {
	p.mu.Lock()
	changed := p.auto != on
	p.auto = on
	p.mu.Unlock()
	if changed {
		p.send(cmdAuto)
	}
}

func (p *Poller) send(c pollCmd) {
	select {
	case p.control <- c:
	default:
	}
}
