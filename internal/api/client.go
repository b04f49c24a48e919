// Package api is the single gateway to the MuchToDo backend.
//
// Every request carries the session cookie from the configured jar; there is no token header.
// Non-2xx answers become *Error, and 2xx bodies are checked against a JSON schema before decoding.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/idilsaglam/muchtodo/internal/model"
)

const maxBodyBytes = 1 << 20

// Options configure a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Jar       http.CookieJar
	Transport http.RoundTripper // defaults to http.DefaultTransport
	Logger    *log.Logger
}

// Client issues credentialed JSON requests against the base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *log.Logger
	schemas *schemas
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url needs scheme and host: %q", opts.BaseURL)
	}
	sc, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Client{
		base: base,
		http: &http.Client{
			Jar:       opts.Jar,
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logger:  logger,
		schemas: sc,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// CurrentUser fetches GET /users/me.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &u, c.schemas.user); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login posts the credentials. The backend answers with a Set-Cookie and {user}.
func (c *Client) Login(ctx context.Context, in model.LoginInput) (*model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &out, c.schemas.loginResponse); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, in model.RegisterInput) error {
	return c.do(ctx, http.MethodPost, "/auth/register", in, nil, nil)
}

// CheckUsername asks whether a username is free. A 400 carrying an answer is not an error.
func (c *Client) CheckUsername(ctx context.Context, username string) (model.UsernameAvailability, error) {
	var out model.UsernameAvailability
	path := "/auth/username-check/" + url.PathEscape(username)
	status, body, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return out, err
	}
	if status == http.StatusBadRequest {
		if decodeValidated(body, c.schemas.usernameCheck, &out) == nil {
			return out, nil
		}
	}
	if status < 200 || status >= 300 {
		return out, newError(http.MethodGet, path, status, body)
	}
	if err := decodeValidated(body, c.schemas.usernameCheck, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Logout ends the server session. The backend expires the cookie in its answer.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

// UpdateProfile sends a partial profile update. The answer body is ignored; callers refetch /users/me.
func (c *Client) UpdateProfile(ctx context.Context, in model.UpdateUserInput) error {
	return c.do(ctx, http.MethodPut, "/users/me", in, nil, nil)
}

func (c *Client) ChangePassword(ctx context.Context, in model.ChangePasswordInput) error {
	return c.do(ctx, http.MethodPut, "/users/me/password", in, nil, nil)
}

func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/users/me", nil, nil, nil)
}

// ListTodos fetches GET /tasks. A null body is an empty list.
func (c *Client) ListTodos(ctx context.Context) ([]model.Todo, error) {
	var todos []model.Todo
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &todos, c.schemas.todoList); err != nil {
		return nil, err
	}
	if todos == nil {
		todos = []model.Todo{}
	}
	return todos, nil
}

func (c *Client) CreateTodo(ctx context.Context, in model.CreateTodoInput) (*model.Todo, error) {
	var t model.Todo
	if err := c.do(ctx, http.MethodPost, "/tasks", in, &t, c.schemas.todo); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateTodo(ctx context.Context, id string, in model.UpdateTodoInput) (*model.Todo, error) {
	var t model.Todo
	if err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), in, &t, c.schemas.todo); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTodo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// Health fetches GET /health. Like every other call, a non-2xx answer is an error. The backend
// answers 503 with a full status body when something is down; that body rides on the *Error.
func (c *Client) Health(ctx context.Context) (model.HealthStatus, error) {
	var h model.HealthStatus
	status, body, err := c.send(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return h, err
	}
	if status < 200 || status >= 300 {
		e := newError(http.MethodGet, "/health", status, body)
		var degraded model.HealthStatus
		if status == http.StatusServiceUnavailable && decodeValidated(body, c.schemas.health, &degraded) == nil {
			e.Health = &degraded
		}
		return h, e
	}
	if err := decodeValidated(body, c.schemas.health, &h); err != nil {
		return h, err
	}
	return h, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, schema *jsonschema.Schema) error {
	status, body, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return newError(method, path, status, body)
	}
	if out == nil {
		return nil
	}
	return decodeValidated(body, schema, out)
}

// send performs the round trip and returns status and body. Only transport failures are errors here.
func (c *Client) send(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "took", time.Since(start).Round(time.Millisecond))
	return resp.StatusCode, body, nil
}
