// Package session holds who is logged in and resolves that once at startup.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
)

// KeyCurrentUser caches the logged-in user.
const KeyCurrentUser query.Key = "currentUser"

// Gateway is the part of the API the session needs.
type Gateway interface {
	CurrentUser(ctx context.Context) (*model.User, error)
	Logout(ctx context.Context) error
}

// State is a snapshot of the store.
type State struct {
	User          *model.User
	Authenticated bool
	Loading       bool
}

func (s State) String() string {
	switch {
	case s.Loading:
		return "loading"
	case s.Authenticated:
		return "authenticated as " + s.User.Username
	default:
		return "anonymous"
	}
}

// Options configure a Store.
type Options struct {
	Logger *log.Logger
	// Forget drops local credentials. Logout calls it whatever the server answered.
	Forget func() error
}

// Store is the single owner of the current user. It starts in the loading state.
type Store struct {
	gw     Gateway
	cache  *query.Client
	logger *log.Logger
	forget func() error

	mu      sync.Mutex
	user    *model.User
	loading bool
	subs    map[int]func(State)
	nextSub int
}

func NewStore(gw Gateway, cache *query.Client, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Store{
		gw:      gw,
		cache:   cache,
		logger:  logger,
		forget:  opts.Forget,
		loading: true,
		subs:    map[int]func(State){},
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Store) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Store) IsAuthenticated() bool { return s.User() != nil }

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Cache returns the resource cache purged on logout.
func (s *Store) Cache() *query.Client { return s.cache }

// SetUser replaces the current user; nil means anonymous.
// It is the only way into the authenticated state.
func (s *Store) SetUser(u *model.User) {
	s.update(func() bool {
		if s.user == u {
			return false
		}
		if u != nil {
			cp := *u
			u = &cp
		}
		s.user = u
		return true
	})
}

func (s *Store) SetLoading(loading bool) {
	s.update(func() bool {
		if s.loading == loading {
			return false
		}
		s.loading = loading
		return true
	})
}

// Logout ends the session on the server, then clears the user and every cached resource whether
// or not the request succeeded. The request error is returned for logging only.
func (s *Store) Logout(ctx context.Context) error {
	err := s.gw.Logout(ctx)
	if err != nil {
		s.logger.Warn("logout request failed, clearing local session anyway", "err", err)
		err = fmt.Errorf("logout: %w", err)
	}
	s.SetUser(nil)
	s.cache.Clear()
	if s.forget != nil {
		if ferr := s.forget(); ferr != nil {
			s.logger.Warn("could not drop stored credentials", "err", ferr)
		}
	}
	return err
}

// Subscribe calls fn with the new state after every change.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) update(change func() bool) {
	s.mu.Lock()
	if !change() {
		s.mu.Unlock()
		return
	}
	st := s.stateLocked()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (s *Store) stateLocked() State {
	var u *model.User
	if s.user != nil {
		cp := *s.user
		u = &cp
	}
	return State{User: u, Authenticated: u != nil, Loading: s.loading}
}
