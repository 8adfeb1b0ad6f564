package guardian_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

type fakeUser struct {
	password string
	roles    []string
}

// fakeAPI mimics the session/CSRF-protected backend: GET /api issues a fresh
// csrf cookie, unsafe methods must echo it in X-CSRF-Token, and the session
// lives in a server-side map keyed by the session_id cookie. Only tokens the
// server issued are accepted.
type fakeAPI struct {
	server  *httptest.Server
	timeout *int

	mu       sync.Mutex
	users    map[string]fakeUser
	sessions map[string]string
	issued   map[string]bool

	bootstraps atomic.Int32
	statuses   atomic.Int32
	tokenSeq   atomic.Int32
}

func newFakeAPI(t *testing.T, timeout *int) *fakeAPI {
	t.Helper()

	api := &fakeAPI{
		timeout: timeout,
		users: map[string]fakeUser{
			"admin": {password: "admin", roles: []string{"admin", "user"}},
			"user":  {password: "user", roles: []string{"user"}},
		},
		sessions: make(map[string]string),
		issued:   make(map[string]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api", api.handleBootstrap).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/status", api.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/login", api.requireCSRF(api.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", api.requireCSRF(api.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/api/thingamabob", api.requireAuth(api.handleThing)).Methods(http.MethodGet)
	r.HandleFunc("/api/thingamabob", api.requireCSRF(api.requireAuth(api.handleThing))).Methods(http.MethodPost)

	api.server = httptest.NewServer(r)
	t.Cleanup(api.server.Close)
	return api
}

// expireSessions drops every server-side session.
func (a *fakeAPI) expireSessions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = make(map[string]string)
}

func (a *fakeAPI) username(r *http.Request) (string, bool) {
	c, err := r.Cookie("session_id")
	if err != nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.sessions[c.Value]
	return name, ok
}

func (a *fakeAPI) writeStatus(w http.ResponseWriter, username string, loggedIn bool) {
	body := models.AuthStatus{LoggedIn: loggedIn, Username: username, Roles: []string{}}
	if loggedIn {
		a.mu.Lock()
		body.Roles = a.users[username].roles
		a.mu.Unlock()
		body.SessionTimeout = a.timeout
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (a *fakeAPI) handleBootstrap(w http.ResponseWriter, _ *http.Request) {
	a.bootstraps.Add(1)
	token := fmt.Sprintf("token-%d", a.tokenSeq.Add(1))
	a.mu.Lock()
	a.issued[token] = true
	a.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "csrf", Value: token, Path: "/"})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, World 👋!"))
}

func (a *fakeAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.statuses.Add(1)
	name, ok := a.username(r)
	a.writeStatus(w, name, ok)
}

func (a *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	user, ok := a.users[creds.Username]
	a.mu.Unlock()
	if !ok || user.password != creds.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := uuid.NewString()
	a.mu.Lock()
	a.sessions[id] = creds.Username
	a.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: id, Path: "/", HttpOnly: true})
	a.writeStatus(w, creds.Username, true)
}

func (a *fakeAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie("session_id"); err == nil {
		a.mu.Lock()
		delete(a.sessions, c.Value)
		a.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "", Path: "/", MaxAge: -1})
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"Logged out"}`))
}

func (a *fakeAPI) handleThing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"thingamabobs":[]}`))
}

func (a *fakeAPI) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("csrf")
		if err != nil || c.Value == "" || r.Header.Get("X-CSRF-Token") != c.Value {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		a.mu.Lock()
		known := a.issued[c.Value]
		a.mu.Unlock()
		if !known {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (a *fakeAPI) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.username(r); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
