package resource

import (
	"context"
	"strings"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// Auth backs the login and register screens.
type Auth struct{ d Deps }

func NewAuth(d Deps) *Auth { return &Auth{d: d.withDefaults()} }

// Login checks the form, posts the credentials and on success stores the returned user.
// It returns the path to continue to.
func (a *Auth) Login(ctx context.Context, form validate.LoginForm) (string, error) {
	form = form.Trimmed()
	if err := validate.Form(form); err != nil {
		return "", err
	}
	u, err := a.d.API.Login(ctx, model.LoginInput{Username: form.Username, Password: form.Password})
	if err != nil {
		return "", a.d.fail("login", "Invalid username or password", err)
	}
	a.d.Session.SetUser(u)
	a.d.cache().Set(session.KeyCurrentUser, *u)
	a.d.Logger.Info("logged in", "user", u.Username)
	a.d.Notify.Success("Logged in successfully")
	return route.Todos, nil
}

// Register creates an account and sends the user to the login screen.
func (a *Auth) Register(ctx context.Context, form validate.RegisterForm) (string, error) {
	form = form.Trimmed()
	if err := validate.Form(form); err != nil {
		return "", err
	}
	in := model.RegisterInput{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Username:  form.Username,
		Password:  form.Password,
	}
	if err := a.d.API.Register(ctx, in); err != nil {
		return "", a.d.fail("register", "Registration failed", err)
	}
	a.d.Notify.Success("Registration successful")
	return route.Login, nil
}

// CheckUsername asks the backend whether a username is still free. Names shorter than the
// minimum are answered locally.
func (a *Auth) CheckUsername(ctx context.Context, username string) (model.UsernameAvailability, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return model.UsernameAvailability{Message: "Username must be at least 3 characters"}, nil
	}
	out, err := a.d.API.CheckUsername(ctx, username)
	if err != nil {
		return out, loadFailed("check username", "Could not check username", err)
	}
	return out, nil
}

// Logout ends the session. Local state is cleared even when the request fails.
func (a *Auth) Logout(ctx context.Context) string {
	if err := a.d.Session.Logout(ctx); err != nil {
		a.d.Logger.Warn("logout", "err", err)
	}
	return route.Login
}
