package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/ui"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// todoItem adapts model.Todo to bubbles/list.Item.
type todoItem struct{ model.Todo }

func (i todoItem) Title() string       { return i.Todo.Title }
func (i todoItem) Description() string { return i.Todo.Description }
func (i todoItem) FilterValue() string { return i.Todo.Title }

// todoDelegate renders one todo per line, with the description muted beside it.
type todoDelegate struct{ theme ui.Theme }

func (d todoDelegate) Height() int                         { return 1 }
func (d todoDelegate) Spacing() int                        { return 0 }
func (d todoDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d todoDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(todoItem)
	if !ok {
		return
	}
	t := d.theme
	text := it.Todo.Title
	if it.Completed {
		text = t.Done.Render(text)
	}
	line := t.Box(it.Completed) + " " + text
	if it.Todo.Description != "" {
		line += "  " + t.Muted.Render(it.Todo.Description)
	}
	prefix := "  "
	if index == m.Index() {
		prefix = t.Selected.Render(">") + " "
	}
	fmt.Fprintln(w, prefix+line)
}

type todosLoaded struct {
	todos []model.Todo
	err   error
}

// mutated is the end of a create, toggle, edit or delete.
type mutated struct {
	op  string
	err error
}

type todoMode int

const (
	browsing todoMode = iota
	adding
	editing
)

var todoKeys = struct {
	Toggle, Delete, Add, Edit, Undo, Refresh key.Binding
}{
	Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
	Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Edit:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Undo:    key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
}

type todos struct {
	env
	res *resource.Todos

	list    list.Model
	spinner spinner.Model
	loading bool
	loaded  bool
	err     error
	pending int // mutations in flight

	mode   todoMode
	form   form
	editID string

	// single-level undo of the last delete
	undo *model.Todo
}

func newTodos(e env) screen {
	l := list.New(nil, todoDelegate{theme: e.theme}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.PaginationStyle = e.theme.Help
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("task", "tasks")
	l.SetSize(e.width-4, listHeight(e.height))
	return todos{
		env:     e,
		res:     resource.NewTodos(e.deps),
		list:    l,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		loading: true,
	}
}

func listHeight(h int) int {
	if h -= 14; h < 3 {
		return 3
	}
	return h
}

func (s todos) Init() tea.Cmd {
	return tea.Batch(s.spinner.Tick, s.fetch(false))
}

func (s *todos) load(force bool) tea.Cmd {
	s.loading = true
	return tea.Batch(s.spinner.Tick, s.fetch(force))
}

func (s todos) fetch(force bool) tea.Cmd {
	res := s.res
	return s.do(func(ctx context.Context) tea.Msg {
		var list []model.Todo
		var err error
		if force {
			list, err = res.Refresh(ctx)
		} else {
			list, err = res.Load(ctx)
		}
		return todosLoaded{todos: list, err: err}
	})
}

func (s todos) Capturing() bool {
	return s.mode != browsing || s.list.FilterState() == list.Filtering
}

func (s todos) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.list.SetSize(msg.Width-4, listHeight(msg.Height))
		return s, nil

	case todosLoaded:
		s.loading = false
		switch {
		case errors.Is(msg.err, query.ErrDiscarded), errors.Is(msg.err, context.Canceled):
			return s, nil
		case msg.err != nil:
			s.err = msg.err
			return s, nil
		}
		s.err, s.loaded = nil, true
		cmd := s.setTodos(msg.todos)
		return s, cmd

	case cacheMsg:
		if msg.Key == resource.KeyTodos && msg.Kind == query.Invalidated {
			cmd := s.load(false)
			return s, cmd
		}
		return s, nil

	case mutated:
		s.pending--
		if msg.err != nil {
			if s.mode != browsing && s.form.fail(msg.err) {
				return s, nil
			}
			if msg.op == "delete" {
				s.undo = nil
			}
			return s, nil
		}
		if s.mode != browsing {
			s.closeForm()
		}
		return s, nil

	case spinner.TickMsg:
		if !s.loading && s.pending == 0 {
			return s, nil
		}
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd

	case tea.KeyMsg:
		if s.mode != browsing {
			return s.updateForm(msg)
		}
		if s.list.FilterState() != list.Filtering {
			if next, cmd, ok := s.updateKeys(msg); ok {
				return next, cmd
			}
		}
	}
	var cmd tea.Cmd
	s.list, cmd = s.list.Update(msg)
	return s, cmd
}

func (s *todos) setTodos(todos []model.Todo) tea.Cmd {
	items := make([]list.Item, len(todos))
	for i, t := range todos {
		items[i] = todoItem{t}
	}
	return s.list.SetItems(items)
}

func (s todos) selected() (model.Todo, bool) {
	it, ok := s.list.SelectedItem().(todoItem)
	return it.Todo, ok
}

func (s todos) updateKeys(msg tea.KeyMsg) (screen, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, todoKeys.Toggle):
		todo, ok := s.selected()
		if !ok {
			return s, nil, true
		}
		res := s.res
		cmd := s.mutate("toggle", func(ctx context.Context) error { return res.Toggle(ctx, todo) })
		return s, cmd, true

	case key.Matches(msg, todoKeys.Delete):
		todo, ok := s.selected()
		if !ok {
			return s, nil, true
		}
		s.undo = &todo
		res := s.res
		cmd := s.mutate("delete", func(ctx context.Context) error { return res.Delete(ctx, todo.ID) })
		return s, cmd, true

	case key.Matches(msg, todoKeys.Undo):
		if s.undo == nil {
			return s, nil, true
		}
		gone := *s.undo
		s.undo = nil
		res := s.res
		cmd := s.mutate("undo", func(ctx context.Context) error {
			created, err := res.Create(ctx, validate.TodoForm{Title: gone.Title, Description: gone.Description})
			if err != nil || !gone.Completed {
				return err
			}
			return res.Toggle(ctx, *created)
		})
		return s, cmd, true

	case key.Matches(msg, todoKeys.Add):
		s.openForm(adding, model.Todo{})
		return s, textinput.Blink, true

	case key.Matches(msg, todoKeys.Edit):
		todo, ok := s.selected()
		if !ok {
			return s, nil, true
		}
		s.openForm(editing, todo)
		return s, textinput.Blink, true

	case key.Matches(msg, todoKeys.Refresh):
		s.err = nil
		cmd := s.load(true)
		return s, cmd, true
	}
	return s, nil, false
}

func (s *todos) mutate(op string, fn func(context.Context) error) tea.Cmd {
	s.pending++
	return tea.Batch(s.spinner.Tick, s.do(func(ctx context.Context) tea.Msg {
		return mutated{op: op, err: fn(ctx)}
	}))
}

func (s *todos) openForm(mode todoMode, todo model.Todo) {
	s.mode = mode
	s.editID = todo.ID
	s.form = newForm(s.theme,
		fieldSpec{name: "title", label: "Title", placeholder: "What needs to be done?", value: todo.Title},
		fieldSpec{name: "description", label: "Description", placeholder: "Description (optional)", value: todo.Description},
	)
}

func (s *todos) closeForm() {
	s.mode = browsing
	s.editID = ""
	s.form.blur()
}

func (s todos) updateForm(msg tea.KeyMsg) (screen, tea.Cmd) {
	ev, cmd := s.form.update(msg)
	switch ev {
	case formCancel:
		s.closeForm()
		return s, nil
	case formSubmit:
		in := validate.TodoForm{Title: s.form.value("title"), Description: s.form.value("description")}
		if err := validate.Form(in); err != nil {
			s.form.fail(err)
			return s, nil
		}
		s.form.errs = nil
		res, id := s.res, s.editID
		var cmd tea.Cmd
		if s.mode == editing {
			cmd = s.mutate("edit", func(ctx context.Context) error { return res.Edit(ctx, id, in) })
		} else {
			cmd = s.mutate("create", func(ctx context.Context) error {
				_, err := res.Create(ctx, in)
				return err
			})
		}
		return s, cmd
	}
	return s, cmd
}

func (s todos) View() string {
	t := s.theme
	var b strings.Builder

	items := s.list.Items()
	var done, pending int
	for _, it := range items {
		if ti, ok := it.(todoItem); ok && ti.Completed {
			done++
		} else {
			pending++
		}
	}
	header := fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		t.Title.Render("My Tasks"),
		t.Success.Render(t.SymOK), done,
		t.Pending.Render(t.SymDot), pending,
		t.Accent.Render("Total"), len(items),
	)
	if s.loading || s.pending > 0 {
		header += "  " + s.spinner.View()
	}
	b.WriteString(header + "\n")
	if u := s.deps.Session.User(); u != nil {
		b.WriteString(t.Muted.Render("Welcome back, "+u.FirstName+"! Here's what you need to do.") + "\n")
	}
	if len(items) > 0 {
		b.WriteString(t.Muted.Render(ui.ProgressBar(done, len(items), 20)) + "\n")
	}
	b.WriteString("\n")

	switch {
	case s.err != nil:
		b.WriteString(t.Error.Render(t.SymFail+" "+resource.Message(s.err)) + "\n")
		b.WriteString(t.Muted.Render("Press r to try again."))
	case !s.loaded && s.loading:
		b.WriteString(t.Muted.Render("Loading..."))
	case len(items) == 0:
		b.WriteString(t.Muted.Render("No todos yet. Press a to add one!"))
	default:
		b.WriteString(s.list.View())
	}

	if s.mode != browsing {
		title := "Add new task"
		if s.mode == editing {
			title = "Edit task"
		}
		b.WriteString("\n\n" + t.Frame(t.Accent.Render(title)+"\n"+s.form.view(nil)))
	}
	return b.String()
}

func (s todos) Help() string {
	if s.mode != browsing {
		return s.form.help()
	}
	bs := []key.Binding{todoKeys.Add, todoKeys.Toggle, todoKeys.Edit, todoKeys.Delete}
	if s.undo != nil {
		bs = append(bs, todoKeys.Undo)
	}
	bs = append(bs, todoKeys.Refresh)
	return helpLine(bs...) + " • / filter"
}
