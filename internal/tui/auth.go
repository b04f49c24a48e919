package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

type landing struct {
	env
}

var landingKeys = struct {
	SignIn, SignUp, Open key.Binding
}{
	SignIn: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "sign in")),
	SignUp: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "get started")),
	Open:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "my tasks")),
}

func newLanding(e env) screen { return landing{env: e} }

func (s landing) Init() tea.Cmd   { return nil }
func (s landing) Capturing() bool { return false }

func (s landing) Update(msg tea.Msg) (screen, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return s, nil
	}
	authenticated := s.deps.Session.IsAuthenticated()
	switch {
	case key.Matches(km, landingKeys.Open) && authenticated:
		return s, navigate(route.Todos)
	case key.Matches(km, landingKeys.SignIn) && !authenticated:
		return s, navigate(route.Login)
	case key.Matches(km, landingKeys.SignUp) && !authenticated:
		return s, navigate(route.Register)
	}
	return s, nil
}

func (s landing) View() string {
	t := s.theme
	lines := []string{
		t.Title.Render("Organize Your Life with MuchToDo"),
		"",
		"A simple, powerful task management app that helps you stay organized and productive.",
		"Create, track, and complete your tasks effortlessly.",
		"",
		t.Accent.Render(t.SymDot) + " Simple & Intuitive",
		t.Accent.Render(t.SymDot) + " Lightning Fast",
		t.Accent.Render(t.SymDot) + " Secure & Private",
		"",
	}
	if u := s.deps.Session.User(); u != nil {
		lines = append(lines, "Welcome back, "+u.FirstName+"!")
	}
	return strings.Join(lines, "\n")
}

func (s landing) Help() string {
	if s.deps.Session.IsAuthenticated() {
		return helpLine(landingKeys.Open)
	}
	return helpLine(landingKeys.SignIn, landingKeys.SignUp)
}

// submitted is the outcome of a form submission: the path to continue to, or an error.
type submitted struct {
	next string
	err  error
}

type login struct {
	env
	form    form
	busy    bool
	spinner spinner.Model
}

func newLogin(e env) screen {
	return login{
		env: e,
		form: newForm(e.theme,
			fieldSpec{name: "username", label: "Username", placeholder: "Username"},
			fieldSpec{name: "password", label: "Password", placeholder: "Password", secret: true},
		),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (s login) Init() tea.Cmd   { return nil }
func (s login) Capturing() bool { return true }

func (s login) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case submitted:
		s.busy = false
		if msg.err != nil {
			s.form.fail(msg.err)
			return s, nil
		}
		return s, navigate(msg.next)
	case spinner.TickMsg:
		if !s.busy {
			return s, nil
		}
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	}
	if s.busy {
		return s, nil
	}
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		return s, navigate(route.Landing)
	case formSubmit:
		in := validate.LoginForm{
			Username: strings.TrimSpace(s.form.value("username")),
			Password: s.form.value("password"),
		}
		if err := validate.Form(in); err != nil {
			s.form.fail(err)
			return s, nil
		}
		s.busy = true
		s.form.errs = nil
		auth := resource.NewAuth(s.deps)
		return s, tea.Batch(s.spinner.Tick, s.do(func(ctx context.Context) tea.Msg {
			next, err := auth.Login(ctx, in)
			return submitted{next: next, err: err}
		}))
	}
	return s, cmd
}

func (s login) View() string {
	t := s.theme
	var b strings.Builder
	b.WriteString(t.Title.Render("Sign in to your account") + "\n\n")
	b.WriteString(s.form.view(nil))
	if s.busy {
		b.WriteString("\n" + s.spinner.View() + " Signing in...")
	}
	b.WriteString("\n" + t.Muted.Render("No account yet? Press esc, then r to sign up."))
	return b.String()
}

func (s login) Help() string { return s.form.help() }

// usernameChecked carries the answer for the username that was typed when the check started.
type usernameChecked struct {
	username string
	res      model.UsernameAvailability
	err      error
}

type register struct {
	env
	form    form
	busy    bool
	spinner spinner.Model

	checked  string // username the note belongs to
	note     string
	noteOK   bool
	checking string
}

func newRegister(e env) screen {
	return register{
		env: e,
		form: newForm(e.theme,
			fieldSpec{name: "firstName", label: "First Name", placeholder: "First name"},
			fieldSpec{name: "lastName", label: "Last Name", placeholder: "Last name"},
			fieldSpec{name: "username", label: "Username", placeholder: "At least 3 characters"},
			fieldSpec{name: "password", label: "Password", placeholder: "At least 6 characters", secret: true},
			fieldSpec{name: "confirmPassword", label: "Confirm Password", placeholder: "Repeat password", secret: true},
		),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (s register) Init() tea.Cmd   { return nil }
func (s register) Capturing() bool { return true }

func (s register) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case submitted:
		s.busy = false
		if msg.err != nil {
			s.form.fail(msg.err)
			return s, nil
		}
		return s, navigate(msg.next)
	case usernameChecked:
		if msg.username != strings.TrimSpace(s.form.value("username")) {
			return s, nil
		}
		s.checking = ""
		s.checked = msg.username
		switch {
		case msg.err != nil:
			s.note, s.noteOK = resource.Message(msg.err), false
		case msg.res.Available:
			s.note, s.noteOK = "Username is available", true
		default:
			s.note, s.noteOK = msg.res.Message, false
			if s.note == "" {
				s.note = "Username not available"
			}
		}
		return s, nil
	case spinner.TickMsg:
		if !s.busy {
			return s, nil
		}
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	}
	if s.busy {
		return s, nil
	}
	before := s.form.focused()
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		return s, navigate(route.Landing)
	case formMoved:
		if before == "username" {
			return s, s.checkUsername()
		}
	case formSubmit:
		in := validate.RegisterForm{
			FirstName:       s.form.value("firstName"),
			LastName:        s.form.value("lastName"),
			Username:        strings.TrimSpace(s.form.value("username")),
			Password:        s.form.value("password"),
			ConfirmPassword: s.form.value("confirmPassword"),
		}
		if err := validate.Form(in); err != nil {
			s.form.fail(err)
			return s, nil
		}
		s.busy = true
		s.form.errs = nil
		auth := resource.NewAuth(s.deps)
		return s, tea.Batch(s.spinner.Tick, s.do(func(ctx context.Context) tea.Msg {
			next, err := auth.Register(ctx, in)
			return submitted{next: next, err: err}
		}))
	}
	return s, cmd
}

func (s *register) checkUsername() tea.Cmd {
	name := strings.TrimSpace(s.form.value("username"))
	if name == "" || name == s.checked || name == s.checking {
		return nil
	}
	s.checking = name
	auth := resource.NewAuth(s.deps)
	return s.do(func(ctx context.Context) tea.Msg {
		res, err := auth.CheckUsername(ctx, name)
		return usernameChecked{username: name, res: res, err: err}
	})
}

func (s register) View() string {
	t := s.theme
	notes := map[string]string{}
	switch {
	case s.checking != "":
		notes["username"] = t.Muted.Render("Checking...")
	case s.note != "" && s.checked == strings.TrimSpace(s.form.value("username")):
		if s.noteOK {
			notes["username"] = t.Success.Render(t.SymOK + " " + s.note)
		} else {
			notes["username"] = t.Error.Render(t.SymFail + " " + s.note)
		}
	}
	var b strings.Builder
	b.WriteString(t.Title.Render("Create Your Free Account") + "\n\n")
	b.WriteString(s.form.view(notes))
	if s.busy {
		b.WriteString("\n" + s.spinner.View() + " Creating account...")
	}
	return b.String()
}

func (s register) Help() string { return s.form.help() }
