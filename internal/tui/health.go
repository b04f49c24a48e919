package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/resource"
)

type healthResult resource.PollResult

var healthKeys = struct {
	Refresh, Auto key.Binding
}{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Auto:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto-refresh")),
}

type health struct {
	env
	res      *resource.Health
	poller   *resource.Poller
	interval time.Duration
	checking bool
	auto     bool
}

func newHealth(e env) screen {
	interval := e.interval
	if interval <= 0 {
		interval = resource.DefaultHealthInterval
	}
	res := resource.NewHealth(e.deps)
	mount, send := e.mount, e.send
	poller := resource.NewPoller(res, interval, func(r resource.PollResult) {
		send(mounted{mount: mount, msg: healthResult(r)})
	}, resource.WithTicker(e.newTicker))
	return health{env: e, res: res, poller: poller, interval: interval, checking: true, auto: true}
}

// Init starts the poller for the lifetime of the mount.
func (s health) Init() tea.Cmd {
	p, ctx := s.poller, s.ctx
	return func() tea.Msg {
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.deps.Logger.Warn("health poller stopped", "err", err)
		}
		return nil
	}
}

func (s health) Capturing() bool { return false }

func (s health) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case healthResult:
		s.checking = false
		return s, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, healthKeys.Refresh):
			s.checking = true
			s.poller.Refresh()
		case key.Matches(msg, healthKeys.Auto):
			s.auto = !s.auto
			s.poller.SetAuto(s.auto)
		}
	}
	return s, nil
}

func (s health) View() string {
	t := s.theme
	v := s.res.View()
	var b strings.Builder
	b.WriteString(t.Title.Render("System Health") + "\n")
	b.WriteString(t.Muted.Render("Monitor the status of backend services") + "\n\n")

	b.WriteString(t.Box(s.auto) + " Auto-refresh  " +
		t.Muted.Render(fmt.Sprintf("Automatically check status every %s", humanInterval(s.interval))) + "\n")
	if !v.CheckedAt.IsZero() {
		b.WriteString(t.Muted.Render("Last checked "+v.CheckedAt.Format("15:04:05")) + "\n")
	}
	b.WriteString("\n")

	if v.Err != nil {
		b.WriteString(t.Error.Render(t.SymFail+" "+resource.Message(v.Err)) + "\n\n")
	}
	if !v.HasStatus {
		b.WriteString(t.Muted.Render("Checking..."))
		return b.String()
	}

	st := v.Status
	b.WriteString(s.service("MongoDB", st.Database, "Primary data store") + "\n")
	cacheNote := "Cache for username availability checks"
	if st.Cache == model.StatusDisabled {
		cacheNote = "Caching is currently disabled"
	}
	b.WriteString(s.service("Redis Cache", st.Cache, cacheNote) + "\n\n")

	b.WriteString(t.Accent.Render("System Status") + "  ")
	if s.checking {
		b.WriteString(t.Muted.Render("Checking..."))
	} else if v.Healthy {
		b.WriteString(t.Success.Render("All critical services are operational"))
	} else {
		b.WriteString(t.Error.Render("One or more critical services are down"))
	}
	return b.String()
}

func (s health) service(name, status, note string) string {
	t := s.theme
	label := strings.ToUpper(status)
	if label == "" {
		label = "UNKNOWN"
	}
	switch status {
	case model.StatusOK:
		label = t.Success.Render(t.SymOK + " " + label)
	case model.StatusDown:
		label = t.Error.Render(t.SymFail + " " + label)
	default:
		label = t.Pending.Render(t.SymDot + " " + label)
	}
	return fmt.Sprintf("%-12s %s  %s", name, label, t.Muted.Render(note))
}

func humanInterval(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func (s health) Help() string { return helpLine(healthKeys.Refresh, healthKeys.Auto) }
