package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/notify"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/ui"
)

type (
	sessionMsg  struct{}
	cacheMsg    query.Event
	cacheBatch  []query.Event
	toastMsg    notify.Notification
	tickMsg     time.Time
	navigateMsg string

	// event is a message that arrived through the event channel.
	event struct{ msg tea.Msg }

	// mounted tags the result of a screen command with the mount that issued it.
	// Results for a screen that is gone are dropped.
	mounted struct {
		mount int
		msg   tea.Msg
	}
)

func navigate(path string) tea.Cmd {
	return func() tea.Msg { return navigateMsg(path) }
}

// screen is one routed view. Screens are values; Update returns the next one.
type screen interface {
	Init() tea.Cmd
	Update(tea.Msg) (screen, tea.Cmd)
	View() string
	Help() string
	// Capturing is true while text input owns the keyboard, which disables global keys.
	Capturing() bool
}

// env is what a mounted screen gets from the app.
type env struct {
	ctx       context.Context // cancelled on unmount
	mount     int
	deps      resource.Deps
	theme     ui.Theme
	send      func(tea.Msg)
	interval  time.Duration
	newTicker func(time.Duration) resource.Ticker
	width     int
	height    int
}

// do runs fn off the update loop and tags its result with the mount id.
func (e env) do(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	ctx, mount := e.ctx, e.mount
	return func() tea.Msg {
		return mounted{mount: mount, msg: fn(ctx)}
	}
}

// after delivers msg to this mount once d has passed.
func (e env) after(d time.Duration, msg tea.Msg) tea.Cmd {
	mount := e.mount
	return tea.Tick(d, func(time.Time) tea.Msg { return mounted{mount: mount, msg: msg} })
}

func newScreen(path string, e env) screen {
	switch path {
	case route.Login:
		return newLogin(e)
	case route.Register:
		return newRegister(e)
	case route.Todos:
		return newTodos(e)
	case route.Profile:
		return newProfile(e)
	case route.ChangePassword:
		return newChangePassword(e)
	case route.Health:
		return newHealth(e)
	}
	return newLanding(e)
}

type keyMap struct {
	ForceQuit, Quit              key.Binding
	Home, Todos, Profile, Health key.Binding
	Logout                       key.Binding
}

var keys = keyMap{
	ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
	Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
	Home:      key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "home")),
	Todos:     key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "tasks")),
	Profile:   key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "profile")),
	Health:    key.NewBinding(key.WithKeys("4"), key.WithHelp("4", "health")),
	Logout:    key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "sign out")),
}

func (k keyMap) globalHelp(authenticated bool) string {
	bs := []key.Binding{k.Home, k.Todos, k.Profile, k.Health}
	if authenticated {
		bs = append(bs, k.Logout)
	}
	bs = append(bs, k.Quit)
	return helpLine(bs...)
}

func helpLine(bs ...key.Binding) string {
	parts := make([]string, 0, len(bs))
	for _, b := range bs {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
