// Package tui is the interactive terminal client. The Bubble Tea update loop owns all view state;
// network calls run as commands and report back through messages.
package tui

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/idilsaglam/muchtodo/internal/notify"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/ui"
)

// Options configure the application.
type Options struct {
	Deps           resource.Deps // Notify is replaced by the toast area
	Bootstrapper   *session.Bootstrapper
	Theme          ui.Theme
	Start          string // initial path
	HealthInterval time.Duration
	NewTicker      func(time.Duration) resource.Ticker
	Logger         *log.Logger
}

// Model is the root Bubble Tea model.
type Model struct {
	opts   Options
	deps   resource.Deps
	nav    *route.Navigator
	theme  ui.Theme
	logger *log.Logger

	ctx    context.Context
	stop   context.CancelFunc
	events chan tea.Msg
	unsubs []func()

	// Cache events wait here, one per key and kind, until the loop takes them.
	cacheMu      sync.Mutex
	cachePending []query.Event
	cacheWake    chan struct{}

	state    session.State
	toasts   *notify.Queue
	ticking  bool
	width    int
	height   int
	decision route.Decision

	path   string // mounted path, empty while nothing renders
	screen screen
	mount  int
	cancel context.CancelFunc
}

// New builds the model and subscribes it to the session and the cache. Call Close when done.
func New(ctx context.Context, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.NewTicker == nil {
		opts.NewTicker = resource.NewTicker
	}
	ctx, stop := context.WithCancel(ctx)
	m := &Model{
		opts:   opts,
		theme:  opts.Theme,
		logger: opts.Logger,
		ctx:    ctx,
		stop:   stop,
		events: make(chan tea.Msg, 64),

		cacheWake: make(chan struct{}, 1),
		toasts: notify.NewQueue(4*time.Second, 3),
		width:  80,
		height: 24,
	}
	m.deps = opts.Deps
	m.deps.Logger = opts.Logger
	m.deps.Notify = notify.Func(func(n notify.Notification) { m.send(toastMsg(n)) })
	m.nav = route.NewNavigator(m.deps.Session)

	store := m.deps.Session
	m.unsubs = append(m.unsubs,
		store.Subscribe(func(session.State) { m.send(sessionMsg{}) }),
		store.Cache().Subscribe("", m.queueCache),
	)
	m.state = store.State()
	m.apply(m.nav.Navigate(opts.Start))
	return m
}

// Run starts the program on the alternate screen and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	m := New(ctx, opts)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Close cancels every request still running and drops the subscriptions.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, u := range m.unsubs {
		u()
	}
	m.stop()
}

func (m *Model) send(msg tea.Msg) {
	select {
	case m.events <- msg:
	case <-m.ctx.Done():
	}
}

// queueCache records ev without blocking. A repeat of a pending key and kind replaces it.
func (m *Model) queueCache(ev query.Event) {
	m.cacheMu.Lock()
	replaced := false
	for i, p := range m.cachePending {
		if p.Key == ev.Key && p.Kind == ev.Kind {
			m.cachePending[i], replaced = ev, true
			break
		}
	}
	if !replaced {
		m.cachePending = append(m.cachePending, ev)
	}
	m.cacheMu.Unlock()

	select {
	case m.cacheWake <- struct{}{}:
	default:
	}
}

func (m *Model) takeCache() cacheBatch {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	out := cacheBatch(m.cachePending)
	m.cachePending = nil
	return out
}

func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return event{msg}
		case <-m.cacheWake:
			return event{m.takeCache()}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Init() tea.Cmd {
	boot := func() tea.Msg {
		if m.opts.Bootstrapper != nil {
			m.opts.Bootstrapper.Run(m.ctx)
		}
		return nil
	}
	cmds := []tea.Cmd{m.listen(), boot}
	if m.screen != nil {
		cmds = append(cmds, m.screen.Init())
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, m.forward(msg)

	case tea.KeyMsg:
		if key.Matches(msg, keys.ForceQuit) {
			return m, tea.Quit
		}
		if m.screen == nil || !m.screen.Capturing() {
			if cmd, handled := m.globalKey(msg); handled {
				return m, cmd
			}
		}
		return m, m.forward(msg)

	case event:
		_, cmd := m.Update(msg.msg)
		return m, tea.Batch(m.listen(), cmd)

	case cacheBatch:
		cmds := make([]tea.Cmd, 0, len(msg))
		for _, ev := range msg {
			cmds = append(cmds, m.forward(cacheMsg(ev)))
		}
		return m, tea.Batch(cmds...)

	case sessionMsg:
		m.state = m.deps.Session.State()
		cmd := m.apply(m.nav.Current())
		return m, tea.Batch(cmd, m.forward(msg))

	case toastMsg:
		m.toasts.Push(notify.Notification(msg))
		return m, m.startTicking()

	case tickMsg:
		if m.toasts.Prune(time.Time(msg)) {
			return m, tick()
		}
		m.ticking = false
		return m, nil

	case navigateMsg:
		return m, m.apply(m.nav.Navigate(string(msg)))

	case mounted:
		if msg.mount != m.mount {
			m.logger.Debug("dropping result for unmounted screen", "mount", msg.mount, "current", m.mount)
			return m, nil
		}
		return m.Update(msg.msg)
	}
	return m, m.forward(msg)
}

func (m *Model) globalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit, true
	case key.Matches(msg, keys.Home):
		return navigate(route.Landing), true
	case key.Matches(msg, keys.Todos):
		return navigate(route.Todos), true
	case key.Matches(msg, keys.Profile):
		return navigate(route.Profile), true
	case key.Matches(msg, keys.Health):
		return navigate(route.Health), true
	case key.Matches(msg, keys.Logout):
		if !m.state.Authenticated {
			return nil, false
		}
		auth := resource.NewAuth(m.deps)
		ctx := m.ctx
		return func() tea.Msg { return navigateMsg(auth.Logout(ctx)) }, true
	}
	return nil, false
}

func (m *Model) forward(msg tea.Msg) tea.Cmd {
	if m.screen == nil {
		return nil
	}
	next, cmd := m.screen.Update(msg)
	m.screen = next
	return cmd
}

// apply renders what the guard decided for res.
func (m *Model) apply(res route.Resolution) tea.Cmd {
	m.decision = res.Decision
	if res.Decision == route.RenderNothing {
		m.unmount()
		return nil
	}
	if m.screen != nil && m.path == res.Path {
		return nil
	}
	return m.mountPath(res.Path)
}

func (m *Model) unmount() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.screen = nil
	m.path = ""
}

func (m *Model) mountPath(path string) tea.Cmd {
	m.unmount()
	ctx, cancel := context.WithCancel(m.ctx)
	m.mount++
	m.cancel = cancel
	m.path = path
	env := env{
		ctx:       ctx,
		mount:     m.mount,
		deps:      m.deps,
		theme:     m.theme,
		send:      m.send,
		interval:  m.opts.HealthInterval,
		newTicker: m.opts.NewTicker,
		width:     m.width,
		height:    m.height,
	}
	m.screen = newScreen(path, env)
	m.logger.Debug("mounted screen", "path", path, "mount", m.mount)
	return m.screen.Init()
}

func (m *Model) startTicking() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")
	if m.screen != nil {
		b.WriteString(m.screen.View())
	}
	b.WriteString("\n")
	if toasts := m.toastView(); toasts != "" {
		b.WriteString("\n" + toasts)
	}
	help := keys.globalHelp(m.state.Authenticated)
	if m.screen != nil {
		help = m.screen.Help() + "  " + help
	}
	b.WriteString("\n" + m.theme.Help.Render(help))
	return m.theme.Frame(b.String())
}

func (m *Model) header() string {
	t := m.theme
	var status string
	switch {
	case m.state.Loading:
		status = t.Muted.Render("checking session…")
	case m.state.Authenticated:
		status = t.Accent.Render("signed in as " + m.state.User.Username)
	default:
		status = t.Muted.Render("not signed in")
	}
	var tabs []string
	for _, it := range navItems(m.state.Authenticated) {
		label := it.label
		if it.path == m.path {
			label = t.Selected.Render(label)
		}
		tabs = append(tabs, label)
	}
	left := t.Title.Render("MuchToDo") + "  " + strings.Join(tabs, "  ")
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - 6
	if gap < 2 {
		gap = 2
	}
	return left + strings.Repeat(" ", gap) + status
}

type navItem struct{ path, label string }

func navItems(authenticated bool) []navItem {
	if authenticated {
		return []navItem{{route.Todos, "My Tasks"}, {route.Profile, "Profile"}, {route.Health, "Health"}}
	}
	return []navItem{{route.Login, "Sign in"}, {route.Register, "Sign up"}, {route.Health, "Health"}}
}

func (m *Model) toastView() string {
	var lines []string
	for _, n := range m.toasts.Items() {
		if n.Level == notify.LevelError {
			lines = append(lines, m.theme.Error.Render(m.theme.SymFail+" "+n.Message))
		} else {
			lines = append(lines, m.theme.Success.Render(m.theme.SymOK+" "+n.Message))
		}
	}
	return strings.Join(lines, "\n")
}

// Path returns the mounted path, or "" while nothing renders.
func (m *Model) Path() string { return m.path }

// Decision returns the last guard decision.
func (m *Model) Decision() route.Decision { return m.decision }
