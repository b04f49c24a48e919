package model

import "time"

// Todo is a task owned by the backend. The client only ever holds a cached copy.
type Todo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateTodoInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// UpdateTodoInput carries only the fields being changed.
type UpdateTodoInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Stats counts completed and pending todos.
func Stats(todos []Todo) (done, pending int) {
	for _, t := range todos {
		if t.Completed {
			done++
		} else {
			pending++
		}
	}
	return
}
