package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

type profileLoaded struct {
	user model.User
	err  error
}

type profileMode int

const (
	viewing profileMode = iota
	editingProfile
	deleting
)

var profileKeys = struct {
	Edit, Password, Delete, Confirm key.Binding
}{
	Edit:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit profile")),
	Password: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "change password")),
	Delete:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "delete account")),
	Confirm:  key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "confirm")),
}

type profile struct {
	env
	res *resource.Profile

	user    model.User
	loaded  bool
	loading bool
	err     error

	mode      profileMode
	form      form
	busy      bool
	confirmed bool
}

func newProfile(e env) screen {
	s := profile{env: e, res: resource.NewProfile(e.deps), loading: true}
	if u := e.deps.Session.User(); u != nil {
		s.user = *u
	}
	return s
}

func (s profile) Init() tea.Cmd { return s.fetch() }

func (s profile) fetch() tea.Cmd {
	res := s.res
	return s.do(func(ctx context.Context) tea.Msg {
		u, err := res.Load(ctx)
		return profileLoaded{user: u, err: err}
	})
}

func (s profile) Capturing() bool { return s.mode != viewing }

func (s profile) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case profileLoaded:
		s.loading = false
		switch {
		case errors.Is(msg.err, query.ErrDiscarded), errors.Is(msg.err, context.Canceled),
			errors.Is(msg.err, resource.ErrSkipped):
			return s, nil
		case msg.err != nil:
			s.err = msg.err
			return s, nil
		}
		s.user, s.loaded, s.err = msg.user, true, nil
		return s, nil

	case cacheMsg:
		if msg.Key == session.KeyCurrentUser && msg.Kind == query.Invalidated {
			s.loading = true
			return s, s.fetch()
		}
		return s, nil

	case sessionMsg:
		if u := s.deps.Session.User(); u != nil {
			s.user = *u
		}
		return s, nil

	case submitted:
		s.busy = false
		if msg.err != nil {
			s.form.fail(msg.err)
			return s, nil
		}
		s.mode = viewing
		if msg.next != "" && msg.next != route.Profile {
			return s, navigate(msg.next)
		}
		return s, nil

	case tea.KeyMsg:
		if s.busy {
			return s, nil
		}
		switch s.mode {
		case editingProfile:
			return s.updateEdit(msg)
		case deleting:
			return s.updateDelete(msg)
		}
		switch {
		case key.Matches(msg, profileKeys.Edit):
			f := s.res.Form()
			s.form = newForm(s.theme,
				fieldSpec{name: "firstName", label: "First Name", value: f.FirstName},
				fieldSpec{name: "lastName", label: "Last Name", value: f.LastName},
				fieldSpec{name: "username", label: "Username", value: f.Username},
			)
			s.mode = editingProfile
			return s, textinput.Blink
		case key.Matches(msg, profileKeys.Password):
			return s, navigate(route.ChangePassword)
		case key.Matches(msg, profileKeys.Delete):
			s.form = newForm(s.theme,
				fieldSpec{name: "password", label: "Enter your password to confirm", placeholder: "Your password", secret: true},
			)
			s.confirmed = false
			s.mode = deleting
			return s, textinput.Blink
		}
	}
	return s, nil
}

func (s profile) updateEdit(msg tea.KeyMsg) (screen, tea.Cmd) {
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		s.mode = viewing
		return s, nil
	case formSubmit:
		in := validate.ProfileForm{
			FirstName: s.form.value("firstName"),
			LastName:  s.form.value("lastName"),
			Username:  s.form.value("username"),
		}
		if err := validate.Form(in); err != nil {
			s.form.fail(err)
			return s, nil
		}
		s.busy = true
		s.form.errs = nil
		res := s.res
		return s, s.do(func(ctx context.Context) tea.Msg {
			return submitted{err: res.Update(ctx, in)}
		})
	}
	return s, cmd
}

func (s profile) updateDelete(msg tea.KeyMsg) (screen, tea.Cmd) {
	if key.Matches(msg, profileKeys.Confirm) {
		s.confirmed = !s.confirmed
		return s, nil
	}
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		s.mode = viewing
		return s, nil
	case formSubmit:
		in := validate.DeleteAccountForm{Password: s.form.value("password"), Confirmed: s.confirmed}
		s.busy = true
		acct := resource.NewAccount(s.deps)
		return s, s.do(func(ctx context.Context) tea.Msg {
			next, err := acct.Delete(ctx, in)
			return submitted{next: next, err: err}
		})
	}
	return s, cmd
}

func (s profile) View() string {
	t := s.theme
	var b strings.Builder
	b.WriteString(t.Title.Render("Profile") + "\n")
	b.WriteString(t.Muted.Render("Manage your account settings and preferences") + "\n\n")

	if s.err != nil {
		b.WriteString(t.Error.Render(t.SymFail+" "+resource.Message(s.err)) + "\n\n")
	}

	switch s.mode {
	case editingProfile:
		b.WriteString(t.Accent.Render("Personal Information") + "\n")
		b.WriteString(t.Muted.Render("Update your profile details") + "\n\n")
		b.WriteString(s.form.view(nil))
		if s.busy {
			b.WriteString("\nSaving...")
		}
		return b.String()
	case deleting:
		b.WriteString(s.deleteView())
		return b.String()
	}

	if !s.loaded && s.loading && s.user.ID == "" {
		b.WriteString(t.Muted.Render("Loading..."))
		return b.String()
	}
	b.WriteString(t.Accent.Render("Personal Information") + "\n")
	b.WriteString("First Name  " + s.user.FirstName + "\n")
	b.WriteString("Last Name   " + s.user.LastName + "\n")
	b.WriteString("Username    " + s.user.Username + "\n\n")
	b.WriteString(t.Accent.Render("Change Password") + "  " + t.Muted.Render("Update your account password") + "\n")
	b.WriteString(t.Error.Render("Delete Account") + "  " + t.Muted.Render("Permanently delete your account"))
	return b.String()
}

func (s profile) deleteView() string {
	t := s.theme
	var b strings.Builder
	b.WriteString(t.Error.Render("Delete Account") + "\n")
	b.WriteString("This action cannot be undone. This will permanently delete your account and remove all your data.\n\n")
	b.WriteString(t.Error.Render("Warning: This action cannot be undone!") + "\n")
	b.WriteString("Deleting your account will permanently remove all your data, including tasks and profile information.\n\n")
	b.WriteString(t.Box(s.confirmed) + " I understand this action cannot be undone and all my data will be permanently deleted\n\n")
	b.WriteString(s.form.view(nil))
	if s.busy {
		b.WriteString("\nDeleting...")
	}
	return b.String()
}

func (s profile) Help() string {
	switch s.mode {
	case editingProfile:
		return s.form.help()
	case deleting:
		return helpLine(profileKeys.Confirm, formKeys.Submit, formKeys.Cancel)
	}
	return helpLine(profileKeys.Edit, profileKeys.Password, profileKeys.Delete)
}
