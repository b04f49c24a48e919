package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/mattn/go-runewidth"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/tui"
	"github.com/idilsaglam/muchtodo/internal/ui"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

func (r *runner) tui(ctx context.Context, path string) error {
	return r.RunTUI(ctx, tui.Options{
		Deps:           resource.Deps{API: r.API, Session: r.Session},
		Bootstrapper:   r.Boot,
		Theme:          ui.NewTheme(r.Config.Theme, nil),
		Start:          path,
		HealthInterval: r.Config.HealthInterval,
		Logger:         r.Logger,
	})
}

func (r *runner) loadTodos(ctx context.Context) ([]model.Todo, error) {
	if err := r.requireUser(ctx); err != nil {
		return nil, err
	}
	return resource.NewTodos(r.deps).Load(ctx)
}

func (r *runner) list(ctx context.Context, args []string) error {
	fs := newFlags("list", r.Printer.Err())
	group := fs.Bool("group", r.Config.Group, "group output by pending/done")
	if err := fs.Parse(args); err != nil {
		return usage("usage: muchtodo list [--group]")
	}
	todos, err := r.loadTodos(ctx)
	if err != nil {
		return err
	}

	t := r.Printer.Theme
	d, p := model.Stats(todos)
	header := fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		t.Title.Render("My Tasks"),
		t.Success.Render(t.SymOK), d,
		t.Pending.Render(t.SymDot), p,
		t.Accent.Render("Total"), len(todos),
	)

	lines := []string{header, t.Muted.Render(ui.ProgressBar(d, d+p, 28)), ""}
	if *group {
		lines = append(lines, groupLines(t, todos)...)
	} else {
		lines = append(lines, flatLines(t, todos, indexes(len(todos)))...)
	}
	lines = append(lines, "", t.Muted.Render("Tip: add with `muchtodo add \"Buy milk\"`"))
	r.Printer.Panel(lines)
	return nil
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// maxTitleWidth is how many terminal cells a title may take in list output.
const maxTitleWidth = 80

// flatLines renders todos numbered by idx, the 1-based positions done and rm accept.
func flatLines(t ui.Theme, todos []model.Todo, idx []int) []string {
	if len(todos) == 0 {
		return []string{t.Muted.Render("No todos yet. Add one with `muchtodo add`!")}
	}
	out := make([]string, 0, len(todos))
	for i, td := range todos {
		title := runewidth.Truncate(td.Title, maxTitleWidth, "...")
		if td.Completed {
			title = t.Done.Render(title)
		}
		line := fmt.Sprintf("%s %s %s", t.Muted.Render(fmt.Sprintf("%2d.", idx[i])), t.Box(td.Completed), title)
		if td.Description != "" {
			line += "  " + t.Muted.Render(td.Description)
		}
		out = append(out, line)
	}
	return out
}

func groupLines(t ui.Theme, todos []model.Todo) []string {
	var pend, done []model.Todo
	var pendIdx, doneIdx []int
	for i, td := range todos {
		if td.Completed {
			done, doneIdx = append(done, td), append(doneIdx, i+1)
		} else {
			pend, pendIdx = append(pend, td), append(pendIdx, i+1)
		}
	}
	section := func(title string, items []model.Todo, idx []int) []string {
		lines := []string{t.Accent.Render(title)}
		if len(items) == 0 {
			return append(lines, t.Muted.Render("(none)"))
		}
		return append(lines, flatLines(t, items, idx)...)
	}
	lines := section("Pending", pend, pendIdx)
	lines = append(lines, "")
	return append(lines, section("Done", done, doneIdx)...)
}

func (r *runner) add(ctx context.Context, args []string) error {
	fs := newFlags("add", r.Printer.Err())
	desc := fs.String("desc", "", "description")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return usage("usage: muchtodo add [--desc D] <title...>")
	}
	if err := r.requireUser(ctx); err != nil {
		return err
	}
	_, err := resource.NewTodos(r.deps).Create(ctx, validate.TodoForm{Title: joinArgs(fs.Args()), Description: *desc})
	return err
}

// withIndex parses a single 1-based index and hands the todo at it to fn.
func (r *runner) withIndex(ctx context.Context, cmd string, args []string, fn func(context.Context, model.Todo) error) error {
	if len(args) != 1 {
		return usage("usage: muchtodo %s <index>", cmd)
	}
	n, err := parseIndex(cmd, args[0])
	if err != nil {
		return err
	}
	todo, err := r.todoAt(ctx, n)
	if err != nil {
		return err
	}
	return fn(ctx, todo)
}

func (r *runner) todoAt(ctx context.Context, n int) (model.Todo, error) {
	todos, err := r.loadTodos(ctx)
	if err != nil {
		return model.Todo{}, err
	}
	if n < 1 || n > len(todos) {
		return model.Todo{}, usageError{
			msg:  fmt.Sprintf("index out of range: have %d, got %d", len(todos), n),
			hint: "Hint: run `muchtodo list` to see valid indexes",
		}
	}
	return todos[n-1], nil
}

func (r *runner) toggle(ctx context.Context, todo model.Todo) error {
	if err := resource.NewTodos(r.deps).Toggle(ctx, todo); err != nil {
		return err
	}
	if todo.Completed {
		r.Printer.OK("marked pending")
	} else {
		r.Printer.OK("marked done")
	}
	return nil
}

func (r *runner) remove(ctx context.Context, todo model.Todo) error {
	return resource.NewTodos(r.deps).Delete(ctx, todo.ID)
}

func (r *runner) edit(ctx context.Context, args []string) error {
	fs := newFlags("edit", r.Printer.Err())
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description")
	const msg = "usage: muchtodo edit <index> [--title T] [--desc D]"
	if len(args) == 0 {
		return usage(msg)
	}
	n, err := parseIndex("edit", args[0])
	if err != nil {
		return err
	}
	if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 0 || fs.NFlag() == 0 {
		return usage(msg)
	}
	todo, err := r.todoAt(ctx, n)
	if err != nil {
		return err
	}
	form := validate.TodoForm{Title: todo.Title, Description: todo.Description}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			form.Title = *title
		case "desc":
			form.Description = *desc
		}
	})
	return resource.NewTodos(r.deps).Edit(ctx, todo.ID, form)
}
