// Package apitest runs an in-memory MuchToDo backend for tests.
//
// Routes, cookie handling and error payloads follow the real backend: a "token" cookie set on
// login, {"error": "..."} bodies on failure, 503 with a status body when health is degraded.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/idilsaglam/muchtodo/internal/model"
)

const cookieName = "token"

type account struct {
	user model.User
	hash []byte
}

type failure struct {
	status  int
	message string
}

// Server is a fake backend. All exported methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by user id
	sessions map[string]string   // token -> user id
	todos    map[string]*model.Todo
	health   model.HealthStatus
	failures map[string]failure
	calls    map[string]int
	hold     map[string]chan struct{}
	now      func() time.Time
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: map[string]*account{},
		sessions: map[string]string{},
		todos:    map[string]*model.Todo{},
		health:   model.HealthStatus{Database: model.StatusOK, Cache: model.StatusDisabled},
		failures: map[string]failure{},
		calls:    map[string]int{},
		hold:     map[string]chan struct{}{},
		now:      time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/username-check/{username}", s.handleUsernameCheck).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.requireSession)
	protected.HandleFunc("/tasks", s.handleListTodos).Methods(http.MethodGet)
	protected.HandleFunc("/tasks", s.handleCreateTodo).Methods(http.MethodPost)
	protected.HandleFunc("/tasks/{id}", s.handleUpdateTodo).Methods(http.MethodPut)
	protected.HandleFunc("/tasks/{id}", s.handleDeleteTodo).Methods(http.MethodDelete)
	protected.HandleFunc("/users/me", s.handleCurrentUser).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", s.handleUpdateUser).Methods(http.MethodPut)
	protected.HandleFunc("/users/me/password", s.handleChangePassword).Methods(http.MethodPut)
	protected.HandleFunc("/users/me", s.handleDeleteUser).Methods(http.MethodDelete)
	return r
}

// routeKey names a route like "PUT /tasks/{id}".
func routeKey(r *http.Request) string {
	tpl := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if t, err := route.GetPathTemplate(); err == nil {
			tpl = t
		}
	}
	return r.Method + " " + tpl
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r)
		s.mu.Lock()
		s.calls[key]++
		f, failing := s.failures[key]
		gate := s.hold[key]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			writeJSON(w, f.status, errorBody(f.message))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxUserKey struct{}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(cookieName)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
			return
		}
		s.mu.Lock()
		uid, ok := s.sessions[c.Value]
		_, exists := s.accounts[uid]
		s.mu.Unlock()
		if !ok || !exists {
			writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxUserKey{}).(string)
	return uid
}

// ---------------------------------------------------
// Test controls
// ---------------------------------------------------

// AddUser creates an account and returns its public record.
func (s *Server) AddUser(first, last, username, password string) model.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	u := model.User{ID: newID(), FirstName: first, LastName: last, Username: username}
	s.mu.Lock()
	s.accounts[u.ID] = &account{user: u, hash: hash}
	s.mu.Unlock()
	return u
}

// AddTodo stores a todo for userID directly.
func (s *Server) AddTodo(userID, title string, completed bool) model.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	t := &model.Todo{ID: newID(), Title: title, Completed: completed, UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.todos[t.ID] = t
	return *t
}

// Todos returns userID's todos in creation order.
func (s *Server) Todos(userID string) []model.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todosLocked(userID)
}

// User returns the current state of an account.
func (s *Server) User(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.User{}, false
	}
	return a.user, true
}

// SetHealth changes what GET /health reports.
func (s *Server) SetHealth(h model.HealthStatus) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

// Fail makes route (e.g. "POST /tasks") answer status with message until Recover is called.
// An empty message sends no error field.
func (s *Server) Fail(route string, status int, message string) {
	s.mu.Lock()
	s.failures[route] = failure{status: status, message: message}
	s.mu.Unlock()
}

// Recover undoes Fail.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	delete(s.failures, route)
	s.mu.Unlock()
}

// Hold blocks requests to route until the returned func is called.
func (s *Server) Hold(route string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.hold[route] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.hold, route)
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls counts requests to route, including failed ones.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// ResetCalls zeroes every counter.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	s.calls = map[string]int{}
	s.mu.Unlock()
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ---------------------------------------------------
// Handlers
// ---------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h := s.health
	s.mu.Unlock()
	status := http.StatusOK
	if h.Database != model.StatusOK || h.Cache == model.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in model.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if in.FirstName == "" || in.LastName == "" || len(in.Username) < 3 || len(in.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid registration data"))
		return
	}
	s.mu.Lock()
	taken := s.findByUsernameLocked(in.Username) != nil
	s.mu.Unlock()
	if taken {
		writeJSON(w, http.StatusConflict, errorBody("Username is already taken"))
		return
	}
	s.AddUser(in.FirstName, in.LastName, in.Username, in.Password)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in model.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.mu.Lock()
	a := s.findByUsernameLocked(in.Username)
	s.mu.Unlock()
	if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(in.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid username or password"))
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = a.user.ID
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: token, Path: "/", MaxAge: 3600, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"token":   token,
		"user":    a.user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(cookieName); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleUsernameCheck(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["username"]
	if len(name) < 3 {
		writeJSON(w, http.StatusBadRequest, model.UsernameAvailability{Message: "Username must be at least 3 characters"})
		return
	}
	s.mu.Lock()
	taken := s.findByUsernameLocked(name) != nil
	s.mu.Unlock()
	if taken {
		writeJSON(w, http.StatusOK, model.UsernameAvailability{Message: "Username not available"})
		return
	}
	writeJSON(w, http.StatusOK, model.UsernameAvailability{Available: true, Message: "Username is available"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	u, _ := s.User(userID(r))
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in model.UpdateUserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID(r)]
	if in.Username != nil && *in.Username != a.user.Username {
		if len(*in.Username) < 3 {
			writeJSON(w, http.StatusBadRequest, errorBody("Username must be at least 3 characters"))
			return
		}
		if s.findByUsernameLocked(*in.Username) != nil {
			writeJSON(w, http.StatusConflict, errorBody("Username is already taken"))
			return
		}
		a.user.Username = *in.Username
	}
	if in.FirstName != nil {
		a.user.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		a.user.LastName = *in.LastName
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Profile updated successfully"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in model.ChangePasswordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if in.OldPassword == in.NewPassword {
		writeJSON(w, http.StatusBadRequest, errorBody("New password cannot be the same as the old password"))
		return
	}
	s.mu.Lock()
	a := s.accounts[userID(r)]
	s.mu.Unlock()
	if bcrypt.CompareHashAndPassword(a.hash, []byte(in.OldPassword)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("Incorrect old password"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("Failed to hash new password"))
		return
	}
	s.mu.Lock()
	a.hash = hash
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	s.mu.Lock()
	delete(s.accounts, uid)
	for id, t := range s.todos {
		if t.UserID == uid {
			delete(s.todos, id)
		}
	}
	for tok, owner := range s.sessions {
		if owner == uid {
			delete(s.sessions, tok)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Todos(userID(r)))
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var in model.CreateTodoInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Title) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Title is required"))
		return
	}
	t := s.AddTodo(userID(r), in.Title, false)
	if in.Description != "" {
		s.mu.Lock()
		s.todos[t.ID].Description = in.Description
		t = *s.todos[t.ID]
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var in model.UpdateTodoInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[mux.Vars(r)["id"]]
	if !ok || t.UserID != userID(r) {
		writeJSON(w, http.StatusNotFound, errorBody("Todo not found"))
		return
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	t.UpdatedAt = s.now().UTC()
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	t, ok := s.todos[id]
	if !ok || t.UserID != userID(r) {
		writeJSON(w, http.StatusNotFound, errorBody("Todo not found"))
		return
	}
	delete(s.todos, id)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------
// helpers
// ---------------------------------------------------

func (s *Server) findByUsernameLocked(name string) *account {
	for _, a := range s.accounts {
		if a.user.Username == name {
			return a
		}
	}
	return nil
}

func (s *Server) todosLocked(uid string) []model.Todo {
	out := []model.Todo{}
	for _, t := range s.todos {
		if t.UserID == uid {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func errorBody(message string) map[string]string {
	if message == "" {
		return map[string]string{}
	}
	return map[string]string{"error": message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("apitest: encode: %v", err))
	}
}

var idSeq struct {
	sync.Mutex
	n int
}

// newID returns a 24-hex id like a Mongo ObjectID, increasing so creation order sorts.
func newID() string {
	idSeq.Lock()
	defer idSeq.Unlock()
	idSeq.n++
	return fmt.Sprintf("%024x", idSeq.n)
}
