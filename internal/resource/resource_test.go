package resource

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/apitest"
	"github.com/idilsaglam/muchtodo/internal/credstore"
	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/notify"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

type env struct {
	srv   *apitest.Server
	store *session.Store
	cache *query.Client
	notes *notify.Recorder
	deps  Deps
	alice model.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Setenv(credstore.TokenEnv, "")
	srv := apitest.New(t)
	client, err := api.New(api.Options{BaseURL: srv.URL, Timeout: 5 * time.Second, Jar: credstore.NewMemory()})
	require.NoError(t, err)

	cache := query.New(query.Options{})
	store := session.NewStore(client, cache, session.Options{})
	session.NewBootstrapper(store).Run(context.Background())
	notes := &notify.Recorder{}
	e := &env{
		srv:   srv,
		store: store,
		cache: cache,
		notes: notes,
		deps:  Deps{API: client, Session: store, Notify: notes},
		alice: srv.AddUser("Alice", "Doe", "alice", "secret123"),
	}
	srv.ResetCalls()
	return e
}

func (e *env) login(t *testing.T) {
	t.Helper()
	_, err := NewAuth(e.deps).Login(context.Background(), validate.LoginForm{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	e.srv.ResetCalls()
}

func (e *env) lastNote(t *testing.T) notify.Notification {
	t.Helper()
	n, ok := e.notes.Last()
	require.True(t, ok, "no notification")
	return n
}

func TestLoginThenTodosFetchesOnce(t *testing.T) {
	e := newEnv(t)
	e.srv.AddTodo(e.alice.ID, "Buy milk", false)
	ctx := context.Background()

	next, err := NewAuth(e.deps).Login(ctx, validate.LoginForm{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, route.Todos, next)
	assert.Equal(t, &e.alice, e.store.User())
	assert.Equal(t, "Logged in successfully", e.lastNote(t).Message)

	todos := NewTodos(e.deps)
	list, err := todos.Load(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = todos.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.srv.Calls("GET /tasks"))
	assert.Zero(t, e.srv.Calls("GET /users/me"), "login answer seeds the current user")
}

func TestLoginFailures(t *testing.T) {
	e := newEnv(t)
	auth := NewAuth(e.deps)
	ctx := context.Background()

	_, err := auth.Login(ctx, validate.LoginForm{})
	errs, ok := validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Username is required", errs.Get("username"))
	assert.Zero(t, e.srv.Calls("POST /auth/login"))

	_, err = auth.Login(ctx, validate.LoginForm{Username: "alice", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, "Invalid username or password", Message(err))
	assert.Equal(t, notify.LevelError, e.lastNote(t).Level)
	assert.False(t, e.store.IsAuthenticated())

	e.srv.Fail("POST /auth/login", http.StatusBadGateway, "")
	_, err = auth.Login(ctx, validate.LoginForm{Username: "alice", Password: "secret123"})
	assert.Equal(t, "Invalid username or password", Message(err), "fallback text")
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	auth := NewAuth(e.deps)
	ctx := context.Background()

	avail, err := auth.CheckUsername(ctx, "al")
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Zero(t, e.srv.Calls("GET /auth/username-check/{username}"))

	avail, err = auth.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, avail.Available)

	form := validate.RegisterForm{FirstName: "Bob", LastName: "Ray", Username: "bob", Password: "secret1", ConfirmPassword: "secret2"}
	_, err = auth.Register(ctx, form)
	_, ok := validate.AsErrors(err)
	assert.True(t, ok)
	assert.Zero(t, e.srv.Calls("POST /auth/register"))

	form.ConfirmPassword = form.Password
	next, err := auth.Register(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, route.Login, next)
	assert.Equal(t, "Registration successful", e.lastNote(t).Message)
	assert.False(t, e.store.IsAuthenticated(), "registering does not log in")

	_, err = auth.Register(ctx, form)
	assert.Equal(t, "Username is already taken", Message(err))
}

func TestLoadSkippedWithoutUser(t *testing.T) {
	e := newEnv(t)
	_, err := NewTodos(e.deps).Load(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
	_, err = NewProfile(e.deps).Load(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Zero(t, e.srv.Calls("GET /tasks"))
	assert.Zero(t, e.srv.Calls("GET /users/me"))
}

func TestEmptyTitleNeverPosts(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := NewTodos(e.deps).Create(context.Background(), validate.TodoForm{Title: ""})
	errs, ok := validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Title is required", errs.Get("title"))
	assert.Zero(t, e.srv.Calls("POST /tasks"))
}

func TestBlankFieldsNeverReachTheServer(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	todo := e.srv.AddTodo(e.alice.ID, "Write report", false)

	_, err := NewTodos(e.deps).Create(ctx, validate.TodoForm{Title: "   "})
	errs, ok := validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Title is required", errs.Get("title"))

	err = NewTodos(e.deps).Edit(ctx, todo.ID, validate.TodoForm{Title: "\t"})
	errs, ok = validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Title is required", errs.Get("title"))

	err = NewProfile(e.deps).Update(ctx, validate.ProfileForm{FirstName: " ", LastName: "Doe", Username: "  ab  "})
	errs, ok = validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "First name is required", errs.Get("firstName"))
	assert.Equal(t, "Username must be at least 3 characters", errs.Get("username"))

	_, err = NewAuth(e.deps).Register(ctx, validate.RegisterForm{
		FirstName: "Bob", LastName: "  ", Username: " bo ", Password: "hunter22", ConfirmPassword: "hunter22",
	})
	errs, ok = validate.AsErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Last name is required", errs.Get("lastName"))
	assert.Equal(t, "Username must be at least 3 characters", errs.Get("username"))

	assert.Zero(t, e.srv.Calls("POST /tasks"))
	assert.Zero(t, e.srv.Calls("PUT /tasks/{id}"))
	assert.Zero(t, e.srv.Calls("PUT /users/me"))
	assert.Zero(t, e.srv.Calls("POST /auth/register"))
}

func TestProfileUpdateSendsTrimmedValues(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	err := NewProfile(e.deps).Update(context.Background(), validate.ProfileForm{FirstName: " Alicia ", LastName: "Doe", Username: " alice "})
	require.NoError(t, err)
	u, ok := e.srv.User(e.alice.ID)
	require.True(t, ok)
	assert.Equal(t, "Alicia", u.FirstName)
	assert.Equal(t, "alice", u.Username)
}

func TestCreateInvalidatesList(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	todos := NewTodos(e.deps)
	ctx := context.Background()

	_, err := todos.Load(ctx)
	require.NoError(t, err)
	created, err := todos.Create(ctx, validate.TodoForm{Title: " Buy milk ", Description: "2L"})
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, "Task added", e.lastNote(t).Message)

	cached, ok := todos.Cached()
	require.True(t, ok)
	assert.Empty(t, cached, "no optimistic insert")

	list, err := todos.Load(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, e.srv.Calls("GET /tasks"))
}

func TestToggleRefetches(t *testing.T) {
	e := newEnv(t)
	todo := e.srv.AddTodo(e.alice.ID, "Write report", false)
	e.login(t)
	todos := NewTodos(e.deps)
	ctx := context.Background()

	list, err := todos.Load(ctx)
	require.NoError(t, err)
	require.False(t, list[0].Completed)

	require.NoError(t, todos.Toggle(ctx, list[0]))
	assert.Equal(t, 1, e.srv.Calls("PUT /tasks/{id}"))

	list, err = todos.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, e.srv.Calls("GET /tasks"))
	assert.Equal(t, todo.ID, list[0].ID)
	assert.True(t, list[0].Completed)
}

func TestFailedMutationLeavesCache(t *testing.T) {
	e := newEnv(t)
	e.srv.AddTodo(e.alice.ID, "Keep me", false)
	e.login(t)
	todos := NewTodos(e.deps)
	ctx := context.Background()

	list, err := todos.Load(ctx)
	require.NoError(t, err)

	e.srv.Fail("DELETE /tasks/{id}", http.StatusInternalServerError, "database unavailable")
	err = todos.Delete(ctx, list[0].ID)
	require.Error(t, err)
	assert.Equal(t, "database unavailable", e.lastNote(t).Message)

	e.srv.Fail("PUT /tasks/{id}", http.StatusInternalServerError, "")
	require.Error(t, todos.Toggle(ctx, list[0]))
	assert.Equal(t, "Failed to update task", e.lastNote(t).Message)

	snap, _ := e.cache.Peek(KeyTodos)
	assert.True(t, snap.Fresh)
	_, err = todos.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.srv.Calls("GET /tasks"), "no refetch after failed writes")
}

func TestEditAndDelete(t *testing.T) {
	e := newEnv(t)
	todo := e.srv.AddTodo(e.alice.ID, "Draft", false)
	e.login(t)
	todos := NewTodos(e.deps)
	ctx := context.Background()

	require.NoError(t, todos.Edit(ctx, todo.ID, validate.TodoForm{Title: "Final", Description: "v2"}))
	list, err := todos.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Final", list[0].Title)
	assert.Equal(t, "v2", list[0].Description)

	require.NoError(t, todos.Delete(ctx, todo.ID))
	assert.Equal(t, "Task deleted", e.lastNote(t).Message)
	list, err = todos.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadFailureIsInline(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.srv.Fail("GET /tasks", http.StatusInternalServerError, "")

	_, err := NewTodos(e.deps).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Failed to load tasks", Message(err))
	assert.Equal(t, "Logged in successfully", e.lastNote(t).Message, "reads raise no toast")
}

func TestLogoutDropsInFlightList(t *testing.T) {
	e := newEnv(t)
	e.srv.AddTodo(e.alice.ID, "Private", false)
	e.login(t)
	release := e.srv.Hold("GET /tasks")
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := NewTodos(e.deps).Load(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return e.srv.Calls("GET /tasks") == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, route.Login, NewAuth(e.deps).Logout(context.Background()))
	release()

	assert.ErrorIs(t, <-done, query.ErrDiscarded)
	_, ok := e.cache.Peek(KeyTodos)
	assert.False(t, ok)
	assert.False(t, e.store.IsAuthenticated())
}

func TestProfileUpdateRefetchesUser(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	profile := NewProfile(e.deps)
	ctx := context.Background()

	form := profile.Form()
	assert.Equal(t, validate.ProfileForm{FirstName: "Alice", LastName: "Doe", Username: "alice"}, form)

	form.FirstName = "Alicia"
	require.NoError(t, profile.Update(ctx, form))
	assert.Equal(t, 1, e.srv.Calls("PUT /users/me"))
	assert.Equal(t, 1, e.srv.Calls("GET /users/me"))
	assert.Equal(t, "Alicia", e.store.User().FirstName)
	assert.Equal(t, "Profile updated successfully", e.lastNote(t).Message)

	u, err := profile.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", u.FirstName)
	assert.Equal(t, 1, e.srv.Calls("GET /users/me"), "fresh after refetch")

	e.srv.AddUser("Bob", "Ray", "bob", "password1")
	form.Username = "bob"
	err = profile.Update(ctx, form)
	assert.Equal(t, "Username is already taken", Message(err))
	assert.Equal(t, "alice", e.store.User().Username)

	form.Username = "al"
	_, ok := validate.AsErrors(profile.Update(ctx, form))
	assert.True(t, ok)
	assert.Equal(t, 2, e.srv.Calls("PUT /users/me"))
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	pw := NewPassword(e.deps)
	ctx := context.Background()

	_, err := pw.Change(ctx, validate.PasswordForm{OldPassword: "x", NewPassword: "short", ConfirmPassword: "short"})
	_, ok := validate.AsErrors(err)
	assert.True(t, ok)
	assert.Zero(t, e.srv.Calls("PUT /users/me/password"))

	_, err = pw.Change(ctx, validate.PasswordForm{OldPassword: "wrong", NewPassword: "newsecret1", ConfirmPassword: "newsecret1"})
	assert.Equal(t, "Incorrect old password", Message(err))

	next, err := pw.Change(ctx, validate.PasswordForm{OldPassword: "secret123", NewPassword: "newsecret1", ConfirmPassword: "newsecret1"})
	require.NoError(t, err)
	assert.Equal(t, route.Profile, next)
	assert.Equal(t, "Password changed successfully", e.lastNote(t).Message)
}

func TestDeleteAccountWithoutConfirmation(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	account := NewAccount(e.deps)

	for _, form := range []validate.DeleteAccountForm{
		{Password: "secret123"},
		{Confirmed: true},
		{},
	} {
		_, err := account.Delete(context.Background(), form)
		require.Error(t, err)
		n := e.lastNote(t)
		assert.Equal(t, notify.LevelError, n.Level)
		assert.Equal(t, "Please confirm and enter your password", n.Message)
	}
	assert.Zero(t, e.srv.Calls("DELETE /users/me"))
	assert.True(t, e.store.IsAuthenticated())
}

func TestDeleteAccount(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.cache.Set(KeyTodos, []model.Todo{})

	next, err := NewAccount(e.deps).Delete(context.Background(), validate.DeleteAccountForm{Password: "secret123", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, route.Login, next)
	assert.Equal(t, 1, e.srv.Calls("DELETE /users/me"))
	_, exists := e.srv.User(e.alice.ID)
	assert.False(t, exists)
	assert.False(t, e.store.IsAuthenticated())
	_, ok := e.cache.Peek(KeyTodos)
	assert.False(t, ok)

	var msgs []string
	for _, n := range e.notes.All() {
		msgs = append(msgs, n.Message)
	}
	assert.Contains(t, msgs, "Account deleted successfully")
}

func TestDeleteAccountFailure(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.srv.Fail("DELETE /users/me", http.StatusInternalServerError, "")

	_, err := NewAccount(e.deps).Delete(context.Background(), validate.DeleteAccountForm{Password: "secret123", Confirmed: true})
	require.Error(t, err)
	assert.Equal(t, "Failed to delete account", e.lastNote(t).Message)
	assert.True(t, e.store.IsAuthenticated())
}

func TestHealthView(t *testing.T) {
	e := newEnv(t)
	health := NewHealth(e.deps)
	ctx := context.Background()

	assert.Equal(t, HealthView{}, health.View())

	st, err := health.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Healthy())
	v := health.View()
	assert.True(t, v.HasStatus)
	assert.True(t, v.Healthy)
	assert.False(t, v.CheckedAt.IsZero())

	e.srv.SetHealth(model.HealthStatus{Database: model.StatusOK, Cache: model.StatusDown})
	_, err = health.Refresh(ctx)
	assert.Equal(t, "Failed to load health status", Message(err), "a 503 is a failed check")
	v = health.View()
	assert.Error(t, v.Err)
	assert.True(t, v.HasStatus)
	assert.False(t, v.Healthy)
	assert.Equal(t, model.StatusDown, v.Status.Cache, "the degraded body is shown")
	assert.False(t, Retryable(err), "a degraded answer is not retried")

	e.srv.SetHealth(model.HealthStatus{Database: model.StatusOK, Cache: model.StatusDisabled})
	_, err = health.Refresh(ctx)
	require.NoError(t, err)
	v = health.View()
	assert.NoError(t, v.Err)
	assert.True(t, v.Healthy)

	e.srv.Fail("GET /health", http.StatusBadGateway, "")
	_, err = health.Refresh(ctx)
	assert.Equal(t, "Failed to load health status", Message(err))
	v = health.View()
	assert.True(t, v.HasStatus, "last good status stays")
	assert.Error(t, v.Err)
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{}, 8)}
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.stopped <- struct{}{} }

func startPoller(t *testing.T, e *env, opts ...PollerOption) (*Poller, *fakeTicker, <-chan PollResult) {
	t.Helper()
	ft := newFakeTicker()
	results := make(chan PollResult, 16)
	opts = append([]PollerOption{WithTicker(func(d time.Duration) Ticker {
		assert.Equal(t, DefaultHealthInterval, d)
		return ft
	})}, opts...)
	p := NewPoller(NewHealth(e.deps), 0, func(r PollResult) { results <- r }, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return p, ft, results
}

func TestHealthPollsEveryInterval(t *testing.T) {
	e := newEnv(t)
	_, ft, results := startPoller(t, e)

	// t=0
	r := <-results
	require.NoError(t, r.Err)
	// t=30s, t=60s; the run ends at 65s before the next tick.
	ft.c <- time.Now()
	<-results
	ft.c <- time.Now()
	<-results

	assert.Equal(t, 3, e.srv.Calls("GET /health"))
}

func TestPollerManualRefreshAndToggle(t *testing.T) {
	e := newEnv(t)
	p, ft, results := startPoller(t, e)
	<-results

	assert.ErrorIs(t, p.Run(context.Background()), ErrPollerRunning)

	p.Refresh()
	<-results
	assert.Equal(t, 2, e.srv.Calls("GET /health"))

	p.SetAuto(false)
	assert.False(t, p.Auto())
	p.Refresh()
	<-results
	select {
	case <-ft.stopped:
	default:
		t.Fatal("ticker not stopped when auto-refresh was turned off")
	}
	assert.Equal(t, 3, e.srv.Calls("GET /health"))

	p.SetAuto(true)
	p.Refresh()
	<-results
	ft.c <- time.Now()
	<-results
	assert.Equal(t, 5, e.srv.Calls("GET /health"))
}

func TestPollerStartsDisabled(t *testing.T) {
	e := newEnv(t)
	p, _, results := startPoller(t, e, WithAutoRefresh(false))
	<-results
	assert.False(t, p.Auto())
	assert.Equal(t, 1, e.srv.Calls("GET /health"))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Action: "delete todo", Message: "Failed to delete task", Err: errors.New("boom")}
	assert.Equal(t, "delete todo: boom", err.Error())
	assert.Equal(t, "Failed to delete task", Message(err))
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.True(t, Retryable(errors.New("dial tcp")))
	assert.False(t, Retryable(&api.Error{Status: http.StatusNotFound}))
}
