package resource

import (
	"context"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/route"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// Profile backs the profile screen.
type Profile struct{ d Deps }

func NewProfile(d Deps) *Profile { return &Profile{d: d.withDefaults()} }

// Load returns the current user through the cache and keeps the session in step with it.
func (p *Profile) Load(ctx context.Context) (model.User, error) {
	if !p.d.Session.IsAuthenticated() {
		return model.User{}, ErrSkipped
	}
	u, err := query.Get(ctx, p.d.cache(), session.KeyCurrentUser, p.fetch)
	if err != nil {
		return model.User{}, loadFailed("load profile", "Failed to load profile", err)
	}
	p.d.Session.SetUser(&u)
	return u, nil
}

func (p *Profile) fetch(ctx context.Context) (model.User, error) {
	u, err := p.d.API.CurrentUser(ctx)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// Form returns the edit form prefilled from the session user.
func (p *Profile) Form() validate.ProfileForm {
	u := p.d.Session.User()
	if u == nil {
		return validate.ProfileForm{}
	}
	return validate.ProfileForm{FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}
}

// Update sends the changed profile. The response body is not trusted as a user record: on success
// the current user is invalidated and fetched again, and that answer is what the session holds.
func (p *Profile) Update(ctx context.Context, form validate.ProfileForm) error {
	form = form.Trimmed()
	if err := validate.Form(form); err != nil {
		return err
	}
	in := model.UpdateUserInput{FirstName: &form.FirstName, LastName: &form.LastName, Username: &form.Username}
	if err := p.d.API.UpdateProfile(ctx, in); err != nil {
		return p.d.fail("update profile", "Failed to update profile", err)
	}
	p.d.cache().Invalidate(session.KeyCurrentUser)
	if _, err := p.Load(ctx); err != nil {
		p.d.Logger.Warn("refetch after profile update", "err", err)
	}
	p.d.Notify.Success("Profile updated successfully")
	return nil
}

// Password backs the change-password screen.
type Password struct{ d Deps }

func NewPassword(d Deps) *Password { return &Password{d: d.withDefaults()} }

// Change validates and submits a password change, returning the path to continue to.
func (p *Password) Change(ctx context.Context, form validate.PasswordForm) (string, error) {
	if err := validate.Form(form); err != nil {
		return "", err
	}
	in := model.ChangePasswordInput{OldPassword: form.OldPassword, NewPassword: form.NewPassword}
	if err := p.d.API.ChangePassword(ctx, in); err != nil {
		return "", p.d.fail("change password", "Failed to change password", err)
	}
	p.d.Notify.Success("Password changed successfully")
	return route.Profile, nil
}

// Account backs the delete-account dialog.
type Account struct{ d Deps }

func NewAccount(d Deps) *Account { return &Account{d: d.withDefaults()} }

// Delete removes the account once the form is confirmed, then ends the local session.
// Without confirmation nothing is sent.
func (a *Account) Delete(ctx context.Context, form validate.DeleteAccountForm) (string, error) {
	if err := validate.Form(form); err != nil {
		a.d.Notify.Error(validate.ConfirmDeleteMessage)
		return "", err
	}
	if err := a.d.API.DeleteAccount(ctx); err != nil {
		return "", a.d.fail("delete account", "Failed to delete account", err)
	}
	a.d.Notify.Success("Account deleted successfully")
	if err := a.d.Session.Logout(ctx); err != nil {
		a.d.Logger.Debug("logout after account deletion", "err", err)
	}
	return route.Login, nil
}
