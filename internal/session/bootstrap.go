package session

import (
	"context"
	"fmt"
	"sync"
)

// Bootstrapper resolves the session from the credential cookie when the process starts.
type Bootstrapper struct {
	store *Store
	once  sync.Once
}

func NewBootstrapper(store *Store) *Bootstrapper {
	return &Bootstrapper{store: store}
}

// Run checks the session at most once per Bootstrapper. Failures of any kind leave the user
// anonymous and are never returned; loading is cleared on every path.
func (b *Bootstrapper) Run(ctx context.Context) {
	b.once.Do(func() { b.check(ctx) })
}

// Refresh re-checks the session on demand with the same semantics as Run.
func (b *Bootstrapper) Refresh(ctx context.Context) {
	b.check(ctx)
}

func (b *Bootstrapper) check(ctx context.Context) {
	s := b.store
	s.SetLoading(true)
	defer s.SetLoading(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session check panicked", "panic", fmt.Sprint(r))
			s.SetUser(nil)
		}
	}()

	u, err := s.gw.CurrentUser(ctx)
	if err != nil {
		s.logger.Debug("no active session", "err", err)
		s.SetUser(nil)
		return
	}
	s.logger.Debug("session restored", "user", u.Username)
	s.SetUser(u)
	s.cache.Set(KeyCurrentUser, *u)
}
