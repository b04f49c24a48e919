package cli

import (
	"context"
	"flag"
	"net/url"
	"strings"
	"time"

	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

func (r *runner) login(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usage("usage: muchtodo login [username]")
	}
	var form validate.LoginForm
	var err error
	if len(args) == 1 {
		form.Username = args[0]
	} else if form.Username, err = r.prompt.ask("Username"); err != nil {
		return err
	}
	if form.Password, err = r.prompt.secret("Password"); err != nil {
		return err
	}
	form.Username = strings.TrimSpace(form.Username)
	_, err = resource.NewAuth(r.deps).Login(ctx, form)
	return err
}

func (r *runner) logout(ctx context.Context) error {
	if info, ok := r.Jar.Info(r.baseURL()); ok && info.Source == "env" {
		r.Printer.OK("session is provided by MUCHTODO_TOKEN (nothing to delete)")
		return nil
	}
	resource.NewAuth(r.deps).Logout(ctx)
	r.Printer.OK("logged out")
	return nil
}

func (r *runner) register(ctx context.Context) error {
	var form validate.RegisterForm
	steps := []struct {
		label  string
		dst    *string
		secret bool
	}{
		{"First name", &form.FirstName, false},
		{"Last name", &form.LastName, false},
		{"Username", &form.Username, false},
		{"Password", &form.Password, true},
		{"Confirm password", &form.ConfirmPassword, true},
	}
	auth := resource.NewAuth(r.deps)
	for _, s := range steps {
		var err error
		if s.secret {
			*s.dst, err = r.prompt.secret(s.label)
		} else {
			*s.dst, err = r.prompt.ask(s.label)
		}
		if err != nil {
			return err
		}
		if s.dst == &form.Username {
			res, err := auth.CheckUsername(ctx, form.Username)
			if err == nil && !res.Available {
				return usage("%s", res.Message)
			}
		}
	}
	_, err := auth.Register(ctx, form)
	if err == nil {
		r.Printer.Hint("Next: muchtodo login " + strings.TrimSpace(form.Username))
	}
	return err
}

func (r *runner) whoami(ctx context.Context) error {
	if err := r.requireUser(ctx); err != nil {
		return err
	}
	u := r.Session.User()
	r.Printer.Println(u.FullName() + " (" + u.Username + ")")
	r.Printer.Println(r.Printer.Theme.Muted.Render("id: " + u.ID))
	return nil
}

func (r *runner) status(ctx context.Context) error {
	p := r.Printer
	p.Println("api:     " + r.Config.APIBaseURL)
	info, ok := r.Jar.Info(r.baseURL())
	switch {
	case !ok:
		p.Println("session: " + p.Theme.Muted.Render("none"))
	case info.Source == "env":
		p.Println("session: MUCHTODO_TOKEN")
	default:
		line := "session: " + r.Config.CookieFile()
		if !info.SavedAt.IsZero() {
			line += " (saved " + info.SavedAt.Local().Format(time.RFC3339) + ")"
		}
		p.Println(line)
		if info.ExpiresAt != nil {
			p.Println("expires: " + info.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	r.Boot.Run(ctx)
	p.Println("state:   " + r.Session.State().String())
	if !r.Session.IsAuthenticated() {
		p.Hint("Run: muchtodo login")
	}
	return nil
}

func (r *runner) baseURL() *url.URL {
	u, err := url.Parse(r.Config.APIBaseURL)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (r *runner) profile(ctx context.Context, args []string) error {
	fs := newFlags("profile", r.Printer.Err())
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	username := fs.String("username", "", "username")
	if err := fs.Parse(args); err != nil {
		return usage("usage: muchtodo profile [--first F] [--last L] [--username U]")
	}
	if err := r.requireUser(ctx); err != nil {
		return err
	}
	res := resource.NewProfile(r.deps)
	u, err := res.Load(ctx)
	if err != nil {
		return err
	}
	if fs.NFlag() == 0 {
		p := r.Printer
		p.Panel([]string{
			p.Theme.Title.Render("Profile"),
			"",
			"First Name  " + u.FirstName,
			"Last Name   " + u.LastName,
			"Username    " + u.Username,
		})
		return nil
	}
	form := res.Form()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first":
			form.FirstName = *first
		case "last":
			form.LastName = *last
		case "username":
			form.Username = *username
		}
	})
	return res.Update(ctx, form)
}

func (r *runner) passwd(ctx context.Context) error {
	if err := r.requireUser(ctx); err != nil {
		return err
	}
	var form validate.PasswordForm
	var err error
	if form.OldPassword, err = r.prompt.secret("Current password"); err != nil {
		return err
	}
	if form.NewPassword, err = r.prompt.secret("New password"); err != nil {
		return err
	}
	if st := validate.PasswordStrength(form.NewPassword); st.Label != "" {
		r.Printer.Hint("strength: " + st.Label)
	}
	if form.ConfirmPassword, err = r.prompt.secret("Confirm new password"); err != nil {
		return err
	}
	_, err = resource.NewPassword(r.deps).Change(ctx, form)
	return err
}

func (r *runner) deleteAccount(ctx context.Context, args []string) error {
	fs := newFlags("delete-account", r.Printer.Err())
	yes := fs.Bool("yes", false, "confirm without asking")
	if err := fs.Parse(args); err != nil {
		return usage("usage: muchtodo delete-account [--yes]")
	}
	if err := r.requireUser(ctx); err != nil {
		return err
	}
	p := r.Printer
	p.Println(p.Theme.Error.Render("Warning: This action cannot be undone!"))
	p.Println("Deleting your account will permanently remove all your data, including tasks and profile information.")

	form := validate.DeleteAccountForm{Confirmed: *yes}
	if !form.Confirmed {
		answer, err := r.prompt.ask(`Type "delete" to confirm`)
		if err != nil {
			return err
		}
		form.Confirmed = strings.EqualFold(strings.TrimSpace(answer), "delete")
	}
	var err error
	if form.Password, err = r.prompt.secret("Enter your password to confirm"); err != nil {
		return err
	}
	_, err = resource.NewAccount(r.deps).Delete(ctx, form)
	return err
}
