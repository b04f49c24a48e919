package resource

import (
	"context"

	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/validate"
)

// Todos backs the todo list.
type Todos struct{ d Deps }

func NewTodos(d Deps) *Todos { return &Todos{d: d.withDefaults()} }

// Load returns the todo list, from cache while it is fresh.
func (t *Todos) Load(ctx context.Context) ([]model.Todo, error) {
	return t.read(ctx, query.Get[[]model.Todo])
}

// Refresh always asks the backend.
func (t *Todos) Refresh(ctx context.Context) ([]model.Todo, error) {
	return t.read(ctx, query.Reload[[]model.Todo])
}

type reader func(context.Context, *query.Client, query.Key, func(context.Context) ([]model.Todo, error)) ([]model.Todo, error)

func (t *Todos) read(ctx context.Context, get reader) ([]model.Todo, error) {
	if !t.d.Session.IsAuthenticated() {
		return nil, ErrSkipped
	}
	todos, err := get(ctx, t.d.cache(), KeyTodos, t.d.API.ListTodos)
	if err != nil {
		return nil, loadFailed("load todos", "Failed to load tasks", err)
	}
	return todos, nil
}

// Cached returns the last loaded list without a request.
func (t *Todos) Cached() ([]model.Todo, bool) {
	snap, ok := t.d.cache().Peek(KeyTodos)
	if !ok || !snap.HasValue {
		return nil, false
	}
	todos, ok := snap.Value.([]model.Todo)
	return todos, ok
}

// Create validates and posts a new todo. The list is refetched on the next read.
func (t *Todos) Create(ctx context.Context, form validate.TodoForm) (*model.Todo, error) {
	form = form.Trimmed()
	if err := validate.Form(form); err != nil {
		return nil, err
	}
	created, err := t.d.API.CreateTodo(ctx, model.CreateTodoInput{Title: form.Title, Description: form.Description})
	if err != nil {
		return nil, t.d.fail("create todo", "Failed to create task", err)
	}
	t.d.cache().Invalidate(KeyTodos)
	t.d.Notify.Success("Task added")
	return created, nil
}

// Toggle flips the completed flag of todo.
func (t *Todos) Toggle(ctx context.Context, todo model.Todo) error {
	completed := !todo.Completed
	if _, err := t.d.API.UpdateTodo(ctx, todo.ID, model.UpdateTodoInput{Completed: &completed}); err != nil {
		return t.d.fail("toggle todo", "Failed to update task", err)
	}
	t.d.cache().Invalidate(KeyTodos)
	return nil
}

// Edit changes title and description of the todo with id.
func (t *Todos) Edit(ctx context.Context, id string, form validate.TodoForm) error {
	form = form.Trimmed()
	if err := validate.Form(form); err != nil {
		return err
	}
	if _, err := t.d.API.UpdateTodo(ctx, id, model.UpdateTodoInput{Title: &form.Title, Description: &form.Description}); err != nil {
		return t.d.fail("edit todo", "Failed to update task", err)
	}
	t.d.cache().Invalidate(KeyTodos)
	t.d.Notify.Success("Task updated")
	return nil
}

func (t *Todos) Delete(ctx context.Context, id string) error {
	if err := t.d.API.DeleteTodo(ctx, id); err != nil {
		return t.d.fail("delete todo", "Failed to delete task", err)
	}
	t.d.cache().Invalidate(KeyTodos)
	t.d.Notify.Success("Task deleted")
	return nil
}
