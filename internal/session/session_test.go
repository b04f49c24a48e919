package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
)

type fakeGateway struct {
	user      *model.User
	err       error
	panics    bool
	logoutErr error

	mu      sync.Mutex
	checks  int
	logouts int
}

func (f *fakeGateway) CurrentUser(context.Context) (*model.User, error) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
	if f.panics {
		panic("decoder exploded")
	}
	return f.user, f.err
}

func (f *fakeGateway) Logout(context.Context) error {
	f.mu.Lock()
	f.logouts++
	f.mu.Unlock()
	return f.logoutErr
}

// recorder keeps every state the store published.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) loadingFalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if !s.Loading {
			n++
		}
	}
	return n
}

var alice = &model.User{ID: "u1", FirstName: "Alice", LastName: "Doe", Username: "alice"}

func TestStoreStartsLoading(t *testing.T) {
	s := NewStore(&fakeGateway{}, query.New(query.Options{}), Options{})
	st := s.State()
	assert.True(t, st.Loading)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
	assert.Equal(t, "loading", st.String())
}

func TestBootstrapLoadingFallsExactlyOnce(t *testing.T) {
	tests := []struct {
		name     string
		gw       *fakeGateway
		wantUser *model.User
	}{
		{name: "valid cookie", gw: &fakeGateway{user: alice}, wantUser: alice},
		{name: "unauthorized", gw: &fakeGateway{err: &api.Error{Status: http.StatusUnauthorized, Message: "unauthorized"}}},
		{name: "network error", gw: &fakeGateway{err: errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")}},
		{name: "panicking fetch", gw: &fakeGateway{panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := query.New(query.Options{})
			s := NewStore(tt.gw, cache, Options{})
			rec := &recorder{}
			s.Subscribe(rec.record)

			b := NewBootstrapper(s)
			b.Run(context.Background())
			b.Run(context.Background())

			assert.Equal(t, 1, tt.gw.checks, "bootstrap runs once")
			assert.Equal(t, 1, rec.loadingFalls())
			st := s.State()
			assert.False(t, st.Loading)
			assert.Equal(t, tt.wantUser != nil, st.Authenticated)
			assert.Equal(t, tt.wantUser, st.User)

			snap, ok := cache.Peek(KeyCurrentUser)
			if tt.wantUser != nil {
				require.True(t, ok)
				assert.True(t, snap.Fresh)
				assert.Equal(t, *tt.wantUser, snap.Value)
			} else {
				assert.False(t, ok)
			}
		})
	}
}

func TestRefreshRechecks(t *testing.T) {
	gw := &fakeGateway{user: alice}
	s := NewStore(gw, query.New(query.Options{}), Options{})
	b := NewBootstrapper(s)
	b.Run(context.Background())
	require.True(t, s.IsAuthenticated())

	gw.user, gw.err = nil, &api.Error{Status: http.StatusUnauthorized}
	b.Refresh(context.Background())
	assert.Equal(t, 2, gw.checks)
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.IsLoading())
}

func TestSetUserCopies(t *testing.T) {
	s := NewStore(&fakeGateway{}, query.New(query.Options{}), Options{})
	u := *alice
	s.SetUser(&u)
	u.Username = "mallory"
	assert.Equal(t, "alice", s.User().Username)
	assert.Equal(t, "authenticated as alice", State{User: alice, Authenticated: true}.String())
}

func TestLogoutClearsEvenWhenRequestFails(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
	}{
		{name: "success"},
		{name: "server error", logoutErr: &api.Error{Status: http.StatusInternalServerError}},
		{name: "network error", logoutErr: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := query.New(query.Options{})
			cache.Set("todos", []model.Todo{{ID: "t1"}})
			forgotten := false
			s := NewStore(&fakeGateway{logoutErr: tt.logoutErr}, cache, Options{
				Forget: func() error { forgotten = true; return nil },
			})
			s.SetUser(alice)
			s.SetLoading(false)

			err := s.Logout(context.Background())
			if tt.logoutErr != nil {
				assert.ErrorIs(t, err, tt.logoutErr)
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, s.IsAuthenticated())
			assert.Nil(t, s.User())
			_, ok := cache.Peek("todos")
			assert.False(t, ok, "cache purged")
			assert.True(t, forgotten)
		})
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := NewStore(&fakeGateway{}, query.New(query.Options{}), Options{})
	rec := &recorder{}
	cancel := s.Subscribe(rec.record)

	s.SetLoading(false)
	s.SetLoading(false)
	cancel()
	s.SetUser(alice)

	assert.Len(t, rec.states, 1, "unchanged fields and cancelled subscribers publish nothing")
}
