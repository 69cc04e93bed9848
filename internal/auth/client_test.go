package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIClientCreateLoginToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/login/token.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"poll-abc","url":"https://example.com/login/poll-abc","expires":"2026-10-16T10:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL+"/api/", nil)
	token, err := client.CreateLoginToken(context.Background())
	if err != nil {
		t.Fatalf("CreateLoginToken() error = %v", err)
	}
	if token.Token != "poll-abc" || token.URL != "https://example.com/login/poll-abc" {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestAPIClientCreateLoginTokenRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	if _, err := NewAPIClient(srv.URL, nil).CreateLoginToken(context.Background()); err == nil {
		t.Fatalf("expected error for incomplete token response")
	}
}

func TestAPIClientGetLoginUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login/user/poll-abc.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":42,"name":"Ada","email":"ada@example.com","access_token":"at","github_access_token":"gh","supporter":true}`))
	}))
	defer srv.Close()

	user, err := NewAPIClient(srv.URL, nil).GetLoginUser(context.Background(), "poll-abc")
	if err != nil {
		t.Fatalf("GetLoginUser() error = %v", err)
	}
	if user.ID != 42 || user.GitHubAccessToken != "gh" || !user.Supporter {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAPIClientGetLoginUserPendingIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, nil).GetLoginUser(context.Background(), "poll-abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetLoginUser() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "not found" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestAPIClientGetLoginUserEmptyBodyIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, nil).GetLoginUser(context.Background(), "poll-abc")
	if !errors.Is(err, ErrLoginPending) {
		t.Fatalf("GetLoginUser() error = %v, want ErrLoginPending", err)
	}
}
