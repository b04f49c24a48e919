package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/ui"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// fieldSpec describes one input. name is the field name validate reports errors under.
type fieldSpec struct {
	name        string
	label       string
	placeholder string
	value       string
	secret      bool
}

type field struct {
	name  string
	label string
	input textinput.Model
}

// form is a vertical stack of text inputs with per-field errors.
type form struct {
	fields []field
	focus  int
	errs   validate.Errors
	theme  ui.Theme
}

var formKeys = struct {
	Next, Prev, Submit, Cancel key.Binding
}{
	Next:   key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next")),
	Prev:   key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "back")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

func newForm(theme ui.Theme, specs ...fieldSpec) form {
	f := form{theme: theme}
	for _, s := range specs {
		ti := textinput.New()
		ti.Prompt = "> "
		ti.Placeholder = s.placeholder
		ti.CharLimit = 200
		ti.SetValue(s.value)
		if s.secret {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		f.fields = append(f.fields, field{name: s.name, label: s.label, input: ti})
	}
	f.setFocus(0)
	return f
}

func (f *form) setFocus(i int) {
	if len(f.fields) == 0 {
		return
	}
	i = (i + len(f.fields)) % len(f.fields)
	for j := range f.fields {
		if j == i {
			f.fields[j].input.Focus()
		} else {
			f.fields[j].input.Blur()
		}
	}
	f.focus = i
}

func (f *form) blur() {
	for j := range f.fields {
		f.fields[j].input.Blur()
	}
}

func (f form) value(name string) string {
	for _, fd := range f.fields {
		if fd.name == name {
			return fd.input.Value()
		}
	}
	return ""
}

func (f *form) set(name, v string) {
	for j := range f.fields {
		if f.fields[j].name == name {
			f.fields[j].input.SetValue(v)
		}
	}
}

func (f form) focused() string {
	if len(f.fields) == 0 {
		return ""
	}
	return f.fields[f.focus].name
}

// formEvent is what a key did to the form.
type formEvent int

const (
	formNone formEvent = iota
	formSubmit
	formCancel
	formMoved // focus left a field
)

// update handles a key. Enter on the last field submits, enter elsewhere moves on.
func (f *form) update(msg tea.Msg) (formEvent, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, formKeys.Cancel):
			return formCancel, nil
		case key.Matches(km, formKeys.Submit):
			if f.focus == len(f.fields)-1 {
				return formSubmit, nil
			}
			f.setFocus(f.focus + 1)
			return formMoved, nil
		case key.Matches(km, formKeys.Next):
			f.setFocus(f.focus + 1)
			return formMoved, nil
		case key.Matches(km, formKeys.Prev):
			f.setFocus(f.focus - 1)
			return formMoved, nil
		}
	}
	if len(f.fields) == 0 {
		return formNone, nil
	}
	var cmd tea.Cmd
	f.fields[f.focus].input, cmd = f.fields[f.focus].input.Update(msg)
	return formNone, cmd
}

// fail records validation errors and reports whether err was one.
// Other failures have already been shown as a toast.
func (f *form) fail(err error) bool {
	errs, ok := validate.AsErrors(err)
	if !ok {
		return false
	}
	f.errs = errs
	for j, fd := range f.fields {
		if errs.Get(fd.name) != "" {
			f.setFocus(j)
			break
		}
	}
	return true
}

func (f form) view(extra map[string]string) string {
	t := f.theme
	var b strings.Builder
	for j, fd := range f.fields {
		label := fd.label
		if j == f.focus {
			label = t.Accent.Render(label)
		}
		b.WriteString(label + "\n" + fd.input.View() + "\n")
		if msg := f.errs.Get(fd.name); msg != "" {
			b.WriteString(t.Error.Render("  "+msg) + "\n")
		} else if note := extra[fd.name]; note != "" {
			b.WriteString("  " + note + "\n")
		}
	}
	return b.String()
}

func (f form) help() string {
	return helpLine(formKeys.Next, formKeys.Submit, formKeys.Cancel)
}
