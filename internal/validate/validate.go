// Package validate checks form input before anything reaches the network.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type RegisterForm struct {
	FirstName       string `form:"firstName" validate:"required"`
	LastName        string `form:"lastName" validate:"required"`
	Username        string `form:"username" validate:"min=3"`
	Password        string `form:"password" validate:"min=6"`
	ConfirmPassword string `form:"confirmPassword" validate:"eqfield=Password"`
}

type TodoForm struct {
	Title       string `form:"title" validate:"required"`
	Description string `form:"description"`
}

type ProfileForm struct {
	FirstName string `form:"firstName" validate:"required"`
	LastName  string `form:"lastName" validate:"required"`
	Username  string `form:"username" validate:"min=3"`
}

type PasswordForm struct {
	OldPassword     string `form:"oldPassword" validate:"required"`
	NewPassword     string `form:"newPassword" validate:"min=8"`
	ConfirmPassword string `form:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

// DeleteAccountForm gates account deletion behind an explicit confirmation.
type DeleteAccountForm struct {
	Password  string `form:"password" validate:"required"`
	Confirmed bool   `form:"confirmed" validate:"required"`
}

// Trimmed returns the form with surrounding whitespace removed from its text fields.
// Passwords are sent as typed.
func (f LoginForm) Trimmed() LoginForm {
	f.Username = strings.TrimSpace(f.Username)
	return f
}

func (f RegisterForm) Trimmed() RegisterForm {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Username = strings.TrimSpace(f.Username)
	return f
}

func (f TodoForm) Trimmed() TodoForm {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	return f
}

func (f ProfileForm) Trimmed() ProfileForm {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Username = strings.TrimSpace(f.Username)
	return f
}

const ConfirmDeleteMessage = "Please confirm and enter your password"

var messages = map[string]string{
	"LoginForm.username.required": "Username is required",
	"LoginForm.password.required": "Password is required",

	"RegisterForm.firstName.required":      "First name is required",
	"RegisterForm.lastName.required":       "Last name is required",
	"RegisterForm.username.min":            "Username must be at least 3 characters",
	"RegisterForm.password.min":            "Password must be at least 6 characters",
	"RegisterForm.confirmPassword.eqfield": "Passwords don't match",

	"TodoForm.title.required": "Title is required",

	"ProfileForm.firstName.required": "First name is required",
	"ProfileForm.lastName.required":  "Last name is required",
	"ProfileForm.username.min":       "Username must be at least 3 characters",

	"PasswordForm.oldPassword.required":     "Current password is required",
	"PasswordForm.newPassword.min":          "Password must be at least 8 characters",
	"PasswordForm.confirmPassword.required": "Please confirm your password",
	"PasswordForm.confirmPassword.eqfield":  "Passwords don't match",

	"DeleteAccountForm.password.required":  ConfirmDeleteMessage,
	"DeleteAccountForm.confirmed.required": ConfirmDeleteMessage,
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// FieldError is one failed rule, already phrased for the user.
type FieldError struct {
	Field   string
	Message string
}

// Errors lists failed fields in form order.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

// Get returns the message for field, or "".
func (e Errors) Get(field string) string {
	for _, fe := range e {
		if fe.Field == field {
			return fe.Message
		}
	}
	return ""
}

// First returns the first message, or "".
func (e Errors) First() string {
	if len(e) == 0 {
		return ""
	}
	return e[0].Message
}

// Form validates one of the form structs of this package and returns Errors or nil.
// Text fields are checked as they will be sent, that is trimmed.
func Form(form any) error {
	switch f := form.(type) {
	case LoginForm:
		form = f.Trimmed()
	case RegisterForm:
		form = f.Trimmed()
	case TodoForm:
		form = f.Trimmed()
	case ProfileForm:
		form = f.Trimmed()
	}
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := make(Errors, 0, len(verrs))
	seen := map[string]bool{}
	for _, fe := range verrs {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true
		msg, ok := messages[fe.Namespace()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid", fe.Field())
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

// AsErrors extracts form errors from err.
func AsErrors(err error) (Errors, bool) {
	var e Errors
	ok := errors.As(err, &e)
	return e, ok
}

// Strength grades a new password for the strength meter.
type Strength struct {
	Score int // 0 (empty) to 4
	Label string
}

func PasswordStrength(pw string) Strength {
	if pw == "" {
		return Strength{}
	}
	if len(pw) < 8 {
		return Strength{Score: 1, Label: "Too short"}
	}
	var lower, upper, digit, other bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	points := 1
	if len(pw) >= 12 {
		points++
	}
	if lower && upper {
		points++
	}
	if digit {
		points++
	}
	if other {
		points++
	}
	switch {
	case points <= 2:
		return Strength{Score: 2, Label: "Weak"}
	case points <= 3:
		return Strength{Score: 3, Label: "Medium"}
	}
	return Strength{Score: 4, Label: "Strong"}
}
