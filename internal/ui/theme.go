package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme bundles palette, symbols and box borders.
type Theme struct {
	Name string

	Title, Muted, Accent, Success, Error, Pending lipgloss.Style
	Selected, Done, Help                          lipgloss.Style

	BoxUnchecked, BoxChecked string
	SymOK, SymFail, SymDot   string

	Border      lipgloss.Border
	BorderColor lipgloss.TerminalColor

	r *lipgloss.Renderer
}

// Themes lists the names NewTheme understands.
func Themes() []string { return []string{"classic", "neon", "mono"} }

// NewTheme builds the named theme bound to renderer r. Unknown names get classic.
func NewTheme(name string, r *lipgloss.Renderer) Theme {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	t := build(strings.ToLower(name), r.NewStyle)
	t.r = r
	return t
}

func build(name string, s func() lipgloss.Style) Theme {
	switch name {
	case "neon":
		return Theme{
			Name:  "neon",
			Title: s().Bold(true).Foreground(lipgloss.Color("13")),
			Muted: s().Faint(true), Accent: s().Foreground(lipgloss.Color("14")),
			Success: s().Foreground(lipgloss.Color("10")), Error: s().Foreground(lipgloss.Color("9")).Bold(true),
			Pending:  s().Foreground(lipgloss.Color("11")),
			Selected: s().Bold(true).Foreground(lipgloss.Color("13")),
			Done:     s().Faint(true).Strikethrough(true),
			Help:     s().Faint(true),

			BoxUnchecked: "◻", BoxChecked: "◼",
			SymOK: "✔", SymFail: "✖", SymDot: "•",
			Border: lipgloss.RoundedBorder(), BorderColor: lipgloss.Color("13"),
		}
	case "mono":
		plain := s()
		return Theme{
			Name:  "mono",
			Title: plain, Muted: plain, Accent: plain, Success: plain, Error: plain, Pending: plain,
			Selected: plain, Done: plain, Help: plain,

			BoxUnchecked: "[ ]", BoxChecked: "[x]",
			SymOK: "ok", SymFail: "error:", SymDot: "-",
			Border: lipgloss.Border{
				Top: "-", Bottom: "-", Left: "|", Right: "|",
				TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
			},
			BorderColor: lipgloss.NoColor{},
		}
	}
	return Theme{
		Name:  "classic",
		Title: s().Bold(true),
		Muted: s().Faint(true), Accent: s().Foreground(lipgloss.Color("12")),
		Success: s().Foreground(lipgloss.Color("42")), Error: s().Foreground(lipgloss.Color("9")).Bold(true),
		Pending:  s().Foreground(lipgloss.Color("214")),
		Selected: s().Bold(true).Reverse(true),
		Done:     s().Faint(true).Strikethrough(true),
		Help:     s().Faint(true),

		BoxUnchecked: "☐", BoxChecked: "☑",
		SymOK: "✔", SymFail: "✖", SymDot: "•",
		Border: lipgloss.NormalBorder(), BorderColor: lipgloss.Color("8"),
	}
}

// Box returns the checkbox for a done flag.
func (t Theme) Box(done bool) string {
	if done {
		return t.Success.Render(t.BoxChecked)
	}
	return t.Muted.Render(t.BoxUnchecked)
}

// Frame draws content inside the theme border.
func (t Theme) Frame(content string) string {
	r := t.r
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return r.NewStyle().
		Border(t.Border).
		BorderForeground(t.BorderColor).
		Padding(0, 1).
		Render(content)
}
