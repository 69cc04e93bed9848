package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"butler/internal/auth"
	"butler/internal/config"
	"butler/internal/services"
)

type recordedEvent struct {
	name string
	data interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) emit(name string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, data: data})
}

func (r *eventRecorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func newCloudServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login/token.json":
			w.Write([]byte(`{"token":"poll-1","url":"https://example.com/login/poll-1"}`))
		case "/login/user/poll-1.json":
			w.Write([]byte(`{"id":42,"name":"Ada","access_token":"at","github_access_token":"gh"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, apiURL string) (*App, *eventRecorder, *[]string) {
	t.Helper()

	recorder := &eventRecorder{}
	opened := &[]string{}
	app := &App{ctx: context.Background(), emit: recorder.emit}
	app.openBrowser = func(_ context.Context, url string) error {
		*opened = append(*opened, url)
		return nil
	}

	svcs, err := services.Build(context.Background(), config.Config{
		APIURL:            apiURL,
		Store:             config.StoreMemory,
		LoginDwell:        time.Millisecond,
		LoginPollInterval: time.Millisecond,
		LoginPollAttempts: 3,
	}, app.openBrowser)
	if err != nil {
		t.Fatalf("services.Build() error = %v", err)
	}
	app.attach(svcs)
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	select {
	case <-svcs.Auth.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bootstrap did not finish")
	}
	return app, recorder, opened
}

func TestAuthLoginBindingReturnsPublicUser(t *testing.T) {
	srv := newCloudServer(t)
	app, recorder, opened := newTestApp(t, srv.URL)

	user, err := app.AuthLogin()
	if err != nil {
		t.Fatalf("AuthLogin() error = %v", err)
	}
	if user == nil || user.ID != 42 {
		t.Fatalf("AuthLogin() = %+v", user)
	}
	if user.AccessToken != "" || user.GitHubAccessToken != "" {
		t.Fatalf("binding leaked credentials: %+v", user)
	}
	if len(*opened) != 1 || (*opened)[0] != "https://example.com/login/poll-1" {
		t.Fatalf("opened = %v", *opened)
	}

	state := app.GetAuthState()
	if !state.IsAuthenticated || state.State != auth.SessionAuthenticated {
		t.Fatalf("GetAuthState() = %+v", state)
	}

	changed := recorder.named("auth:changed")
	last := changed[len(changed)-1].data.(*auth.AuthState)
	if !last.IsAuthenticated || last.User.ID != 42 {
		t.Fatalf("last auth:changed = %+v", last)
	}

	loading := recorder.named("auth:loading")
	if len(loading) != 3 || loading[1].data != true || loading[2].data != false {
		t.Fatalf("auth:loading events = %+v", loading)
	}
}

func TestAuthLogoutBindingClearsState(t *testing.T) {
	srv := newCloudServer(t)
	app, _, _ := newTestApp(t, srv.URL)

	if _, err := app.AuthLogin(); err != nil {
		t.Fatalf("AuthLogin() error = %v", err)
	}
	if err := app.AuthLogout(); err != nil {
		t.Fatalf("AuthLogout() error = %v", err)
	}
	if app.GetUser() != nil {
		t.Fatalf("GetUser() after logout = %+v", app.GetUser())
	}
	if app.IsLoginInProgress() {
		t.Fatalf("IsLoginInProgress() after logout")
	}
}

func TestAuthLoginBindingEmitsErrorWhenTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"maintenance"}`))
	}))
	defer srv.Close()
	app, recorder, _ := newTestApp(t, srv.URL)

	if _, err := app.AuthLogin(); err == nil {
		t.Fatalf("expected AuthLogin() error")
	}
	if len(recorder.named("auth:error")) != 1 {
		t.Fatalf("expected one auth:error event")
	}
}

func TestBindingsWithoutServices(t *testing.T) {
	app := NewApp()

	if _, err := app.AuthLogin(); err == nil {
		t.Fatalf("expected error without services")
	}
	if err := app.AuthLogout(); err != nil {
		t.Fatalf("AuthLogout() error = %v", err)
	}
	if app.GetUser() != nil || app.IsLoginInProgress() {
		t.Fatalf("unexpected state without services")
	}
	if app.GetAuthState().State != auth.SessionUnknown {
		t.Fatalf("GetAuthState() = %+v", app.GetAuthState())
	}
}
