// Package route decides what a screen may render for the current session.
package route

import (
	"sort"
	"strings"
	"sync"

	"github.com/idilsaglam/muchtodo/internal/session"
)

// Requirement is what a route asks of the session.
type Requirement int

const (
	Public Requirement = iota
	Authenticated
)

// Decision is the outcome of the guard.
type Decision int

const (
	Render Decision = iota
	RenderNothing
	RedirectToLogin
)

func (d Decision) String() string {
	switch d {
	case Render:
		return "render"
	case RenderNothing:
		return "render-nothing"
	case RedirectToLogin:
		return "redirect-to-login"
	}
	return "unknown"
}

const (
	Landing        = "/"
	Login          = "/login"
	Register       = "/register"
	Health         = "/health"
	Todos          = "/todos"
	Profile        = "/profile"
	ChangePassword = "/change-password"
)

var table = map[string]Requirement{
	Landing:        Public,
	Login:          Public,
	Register:       Public,
	Health:         Public,
	Todos:          Authenticated,
	Profile:        Authenticated,
	ChangePassword: Authenticated,
}

// Decide is a pure function of the session snapshot. While the session is still resolving nothing
// renders, so protected content never flashes before the redirect.
func Decide(st session.State, req Requirement) Decision {
	if st.Loading {
		return RenderNothing
	}
	if req == Authenticated && !st.Authenticated {
		return RedirectToLogin
	}
	return Render
}

// Lookup returns the requirement of a known path.
func Lookup(path string) (Requirement, bool) {
	req, ok := table[normalize(path)]
	return req, ok
}

// Paths lists every route, sorted.
func Paths() []string {
	out := make([]string, 0, len(table))
	for p := range table {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return Landing
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Resolution is where a navigation ended up.
type Resolution struct {
	Requested string   // normalized path the caller asked for
	Path      string   // path to show
	Decision  Decision // guard outcome for Requested
}

// Navigator tracks the requested path and re-applies the guard on demand.
type Navigator struct {
	store *session.Store

	mu        sync.Mutex
	requested string
}

func NewNavigator(store *session.Store) *Navigator {
	return &Navigator{store: store, requested: Landing}
}

// Navigate resolves path against the route table and the current session. Unknown paths resolve
// to the landing page.
func (n *Navigator) Navigate(path string) Resolution {
	p := normalize(path)
	if _, ok := table[p]; !ok {
		p = Landing
	}
	n.mu.Lock()
	n.requested = p
	n.mu.Unlock()
	return n.resolve(p)
}

// Current re-evaluates the last requested path, e.g. after the session changed.
func (n *Navigator) Current() Resolution {
	n.mu.Lock()
	p := n.requested
	n.mu.Unlock()
	return n.resolve(p)
}

func (n *Navigator) resolve(p string) Resolution {
	d := Decide(n.store.State(), table[p])
	res := Resolution{Requested: p, Path: p, Decision: d}
	if d == RedirectToLogin {
		res.Path = Login
	}
	return res
}
