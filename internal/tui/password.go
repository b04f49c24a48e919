package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// passwordRedirectDelay is how long the success state shows before returning to the profile.
const passwordRedirectDelay = 1500 * time.Millisecond

type changePassword struct {
	env
	form form
	busy bool
	done bool
}

func newChangePassword(e env) screen {
	return changePassword{
		env: e,
		form: newForm(e.theme,
			fieldSpec{name: "oldPassword", label: "Current Password", secret: true},
			fieldSpec{name: "newPassword", label: "New Password", placeholder: "At least 8 characters", secret: true},
			fieldSpec{name: "confirmPassword", label: "Confirm New Password", secret: true},
		),
	}
}

func (s changePassword) Init() tea.Cmd   { return nil }
func (s changePassword) Capturing() bool { return !s.done }

func (s changePassword) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case submitted:
		s.busy = false
		if msg.err != nil {
			s.form.fail(msg.err)
			return s, nil
		}
		s.done = true
		s.form.blur()
		return s, s.after(passwordRedirectDelay, navigateMsg(msg.next))
	}
	if s.busy || s.done {
		return s, nil
	}
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		return s, navigate(route.Profile)
	case formSubmit:
		in := validate.PasswordForm{
			OldPassword:     s.form.value("oldPassword"),
			NewPassword:     s.form.value("newPassword"),
			ConfirmPassword: s.form.value("confirmPassword"),
		}
		if err := validate.Form(in); err != nil {
			s.form.fail(err)
			return s, nil
		}
		s.busy = true
		s.form.errs = nil
		pw := resource.NewPassword(s.deps)
		return s, s.do(func(ctx context.Context) tea.Msg {
			next, err := pw.Change(ctx, in)
			return submitted{next: next, err: err}
		})
	}
	return s, cmd
}

func (s changePassword) View() string {
	t := s.theme
	var b strings.Builder
	b.WriteString(t.Title.Render("Change Password") + "\n")
	b.WriteString(t.Muted.Render("Update your account password") + "\n\n")
	if s.done {
		b.WriteString(t.Success.Render(t.SymOK+" Password changed successfully") + "\n")
		b.WriteString(t.Muted.Render("Returning to your profile..."))
		return b.String()
	}
	b.WriteString(s.form.view(map[string]string{"newPassword": s.strength()}))
	if s.busy {
		b.WriteString("\nChanging...")
	}
	return b.String()
}

// strength renders the meter under the new password.
func (s changePassword) strength() string {
	st := validate.PasswordStrength(s.form.value("newPassword"))
	if st.Score == 0 {
		return ""
	}
	t := s.theme
	bar := strings.Repeat("█", st.Score) + strings.Repeat("░", 4-st.Score)
	switch st.Score {
	case 1, 2:
		return t.Error.Render(bar) + " " + st.Label
	case 3:
		return t.Pending.Render(bar) + " " + st.Label
	}
	return t.Success.Render(bar) + " " + st.Label
}

func (s changePassword) Help() string { return s.form.help() }
