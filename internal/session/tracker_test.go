package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/session"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

type apiResult struct {
	raw string
	err error
}

type fakeAPI struct {
	results map[string]apiResult
	calls   []string
	bodies  []interface{}
}

func (f *fakeAPI) result(target string) (json.RawMessage, error) {
	f.calls = append(f.calls, target)
	r := f.results[target]
	if r.raw == "" {
		return nil, r.err
	}
	return json.RawMessage(r.raw), r.err
}

func (f *fakeAPI) Get(_ context.Context, target string) (json.RawMessage, error) {
	return f.result(target)
}

func (f *fakeAPI) Post(_ context.Context, target string, body interface{}) (json.RawMessage, error) {
	f.bodies = append(f.bodies, body)
	return f.result(target)
}

func newTracker(results map[string]apiResult) (*session.Tracker, *session.Store, *fakeAPI) {
	api := &fakeAPI{results: results}
	store := session.NewStore()
	return session.NewTracker(api, store, session.DefaultPaths(), logger.NewDiscard()), store, api
}

func TestTracker_CheckAuthentication(t *testing.T) {
	tests := []struct {
		name        string
		result      apiResult
		wantLogged  bool
		wantTimeout int
		wantErr     bool
	}{
		{
			name:        "logged in with declared timeout",
			result:      apiResult{raw: `{"loggedIn":true,"username":"admin","roles":["admin"],"sessionTimeout":120}`},
			wantLogged:  true,
			wantTimeout: 120,
		},
		{
			name:        "logged in without timeout",
			result:      apiResult{raw: `{"loggedIn":true,"username":"admin","roles":["admin"]}`},
			wantLogged:  true,
			wantTimeout: 3600,
		},
		{
			name:        "explicitly logged out",
			result:      apiResult{raw: `{"loggedIn":false}`},
			wantTimeout: 3600,
		},
		{
			name:        "null result",
			result:      apiResult{},
			wantTimeout: 3600,
		},
		{
			name:        "request failed",
			result:      apiResult{err: &models.RequestError{Kind: models.KindNetwork, Err: errors.New("refused")}},
			wantTimeout: 3600,
			wantErr:     true,
		},
		{
			name:        "undecodable",
			result:      apiResult{raw: `[1,2]`},
			wantTimeout: 3600,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, store, _ := newTracker(map[string]apiResult{"/api/auth/status": tt.result})
			store.SetAuthenticated(models.AuthStatus{LoggedIn: true, Username: "previous", SessionTimeout: intPtr(10)})

			err := tracker.CheckAuthentication(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			s := store.Snapshot()
			assert.Equal(t, tt.wantLogged, s.LoggedIn)
			assert.Equal(t, tt.wantTimeout, s.SessionTimeout)
			if !tt.wantLogged {
				assert.Empty(t, s.Username)
				assert.Equal(t, []string{}, s.Roles)
			}
		})
	}
}

func TestTracker_LoginSuccess(t *testing.T) {
	tracker, store, api := newTracker(map[string]apiResult{
		"/api/auth/login": {raw: `{"loggedIn":true,"username":"admin","roles":["admin","user"]}`},
	})

	err := tracker.Login(context.Background(), models.Credentials{Username: "admin", Password: "admin"})
	require.NoError(t, err)
	assert.NoError(t, tracker.LoginError())

	s := store.Snapshot()
	assert.True(t, s.LoggedIn)
	assert.Equal(t, "admin", s.Username)
	assert.Equal(t, []string{"admin", "user"}, s.Roles)

	require.Len(t, api.bodies, 1)
	assert.Equal(t, models.Credentials{Username: "admin", Password: "admin"}, api.bodies[0])
}

func TestTracker_LoginFailure(t *testing.T) {
	tests := []struct {
		name   string
		creds  models.Credentials
		result apiResult
		calls  int
	}{
		{"unauthorized", models.Credentials{Username: "admin", Password: "wrong"}, apiResult{}, 1},
		{"server error", models.Credentials{Username: "admin", Password: "x"}, apiResult{err: &models.RequestError{Kind: models.KindServer, StatusCode: 500}}, 1},
		{"loggedIn false", models.Credentials{Username: "admin", Password: "x"}, apiResult{raw: `{"loggedIn":false}`}, 1},
		{"missing password", models.Credentials{Username: "admin"}, apiResult{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, store, api := newTracker(map[string]apiResult{"/api/auth/login": tt.result})

			err := tracker.Login(context.Background(), tt.creds)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrLoginFailed)
			assert.ErrorIs(t, tracker.LoginError(), models.ErrLoginFailed)
			assert.False(t, store.Snapshot().LoggedIn)
			assert.Len(t, api.calls, tt.calls)
		})
	}
}

func TestTracker_LoginFailureKeepsExistingSession(t *testing.T) {
	tracker, store, _ := newTracker(map[string]apiResult{"/api/auth/login": {}})
	store.SetAuthenticated(models.AuthStatus{LoggedIn: true, Username: "admin"})

	err := tracker.Login(context.Background(), models.Credentials{Username: "user", Password: "bad"})
	require.Error(t, err)

	s := store.Snapshot()
	assert.True(t, s.LoggedIn)
	assert.Equal(t, "admin", s.Username)
}

func TestTracker_LoginClearsPreviousError(t *testing.T) {
	api := &fakeAPI{results: map[string]apiResult{"/api/auth/login": {}}}
	store := session.NewStore()
	tracker := session.NewTracker(api, store, session.DefaultPaths(), logger.NewDiscard())

	require.Error(t, tracker.Login(context.Background(), models.Credentials{Username: "admin", Password: "bad"}))
	require.Error(t, tracker.LoginError())

	api.results["/api/auth/login"] = apiResult{raw: `{"loggedIn":true,"username":"admin"}`}
	require.NoError(t, tracker.Login(context.Background(), models.Credentials{Username: "admin", Password: "admin"}))
	assert.NoError(t, tracker.LoginError())
}

func TestTracker_LogoutAlwaysResets(t *testing.T) {
	tests := []struct {
		name    string
		result  apiResult
		wantErr bool
	}{
		{"success", apiResult{}, false},
		{"network failure", apiResult{err: &models.RequestError{Kind: models.KindNetwork, Err: errors.New("down")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, store, api := newTracker(map[string]apiResult{"/api/auth/logout": tt.result})
			store.SetAuthenticated(models.AuthStatus{LoggedIn: true, Username: "admin", Roles: []string{"admin"}})

			err := tracker.Logout(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.False(t, store.Snapshot().LoggedIn)
			assert.Equal(t, []string{"/api/auth/logout"}, api.calls)
		})
	}
}
