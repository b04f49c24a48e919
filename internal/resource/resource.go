// Package resource implements the views of the client without any rendering: each view reads
// through the query cache, runs mutations as plain requests and invalidates what they touched.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/notify"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/session"
)

const (
	KeyTodos  query.Key = "todos"
	KeyHealth query.Key = "health"
)

// ErrSkipped is returned by loads whose precondition (a logged-in user) does not hold.
// No request is sent.
var ErrSkipped = errors.New("not logged in")

// Gateway is the part of the API the views use. *api.Client implements it.
type Gateway interface {
	CurrentUser(ctx context.Context) (*model.User, error)
	Login(ctx context.Context, in model.LoginInput) (*model.User, error)
	Register(ctx context.Context, in model.RegisterInput) error
	CheckUsername(ctx context.Context, username string) (model.UsernameAvailability, error)
	UpdateProfile(ctx context.Context, in model.UpdateUserInput) error
	ChangePassword(ctx context.Context, in model.ChangePasswordInput) error
	DeleteAccount(ctx context.Context) error
	ListTodos(ctx context.Context) ([]model.Todo, error)
	CreateTodo(ctx context.Context, in model.CreateTodoInput) (*model.Todo, error)
	UpdateTodo(ctx context.Context, id string, in model.UpdateTodoInput) (*model.Todo, error)
	DeleteTodo(ctx context.Context, id string) error
	Health(ctx context.Context) (model.HealthStatus, error)
}

// Deps is what every view needs.
type Deps struct {
	API     Gateway
	Session *session.Store
	Notify  notify.Notifier
	Logger  *log.Logger
}

func (d Deps) cache() *query.Client { return d.Session.Cache() }

func (d Deps) withDefaults() Deps {
	if d.Notify == nil {
		d.Notify = notify.Discard
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard)
	}
	return d
}

// Error is a failed action together with the message shown to the user.
type Error struct {
	Action  string
	Message string
	Err     error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Action, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// fail reports a failed mutation and leaves the cache alone.
func (d Deps) fail(action, fallback string, err error) error {
	msg := api.Message(err, fallback)
	d.Logger.Warn(action+" failed", "err", err)
	d.Notify.Error(msg)
	return &Error{Action: action, Message: msg, Err: err}
}

// loadFailed wraps a failed read. Reads render their error inline instead of raising a toast.
func loadFailed(action, fallback string, err error) error {
	if errors.Is(err, ErrSkipped) || errors.Is(err, query.ErrDiscarded) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Action: action, Message: api.Message(err, fallback), Err: err}
}

// Retryable tells the query cache which read failures are worth another try.
func Retryable(err error) bool {
	if _, degraded := api.DegradedHealth(err); degraded {
		return false
	}
	return !api.IsClientError(err) && !errors.Is(err, api.ErrMalformedResponse)
}
