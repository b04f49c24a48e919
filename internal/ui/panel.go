package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ProgressBar renders a Unicode progress bar with percentage.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if width < 5 {
		width = 5
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	pct := int(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

// Printer writes status lines and panels for one-shot commands.
// Colors follow each writer: a pipe or file gets plain text.
type Printer struct {
	out, err        io.Writer
	Theme, ErrTheme Theme
}

// ColorMode selects between terminal detection, forced color and none.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func NewPrinter(out, errw io.Writer, theme string, mode ColorMode) *Printer {
	return &Printer{
		out:      out,
		err:      errw,
		Theme:    NewTheme(theme, renderer(out, mode)),
		ErrTheme: NewTheme(theme, renderer(errw, mode)),
	}
}

func renderer(w io.Writer, mode ColorMode) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

func (p *Printer) Out() io.Writer { return p.out }
func (p *Printer) Err() io.Writer { return p.err }

func (p *Printer) OK(msg string) {
	fmt.Fprintln(p.out, p.Theme.Success.Render(p.Theme.SymOK+" "+msg))
}

func (p *Printer) Fail(msg string) {
	fmt.Fprintln(p.err, p.ErrTheme.Error.Render(p.ErrTheme.SymFail+" "+msg))
}

// Hint prints a muted follow-up line under a failure.
func (p *Printer) Hint(msg string) {
	fmt.Fprintln(p.err, p.ErrTheme.Muted.Render(msg))
}

func (p *Printer) Println(a ...any) { fmt.Fprintln(p.out, a...) }

// Panel draws lines inside a frame.
func (p *Printer) Panel(lines []string) {
	fmt.Fprintln(p.out, p.Theme.Frame(strings.Join(lines, "\n")))
}
