package services

import (
	"context"
	"testing"
	"time"

	"butler/internal/auth"
	"butler/internal/config"
)

func TestBuildWiresMemoryBackedSession(t *testing.T) {
	cfg := config.Config{
		APIURL:            "http://127.0.0.1:1",
		Store:             config.StoreMemory,
		LoginDwell:        time.Millisecond,
		LoginPollInterval: time.Millisecond,
		LoginPollAttempts: 1,
	}

	svcs, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svcs.Close(ctx); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}()

	select {
	case <-svcs.Auth.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bootstrap did not finish")
	}
	if svcs.Auth.State() != auth.SessionAnonymous {
		t.Fatalf("State() = %s, want anonymous", svcs.Auth.State())
	}

	user := &auth.User{ID: 3, Name: "Ada"}
	if err := svcs.Auth.SetUser(context.Background(), user); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	stored, err := svcs.Store.Load(context.Background())
	if err != nil || stored == nil || stored.ID != 3 {
		t.Fatalf("store Load() = %+v, %v", stored, err)
	}
	if svcs.Analytics.DistinctID() != "3" {
		t.Fatalf("analytics not tagged: %q", svcs.Analytics.DistinctID())
	}
}

func TestBuildLoginFailsFastWhenAPIUnreachable(t *testing.T) {
	cfg := config.Config{
		APIURL:            "http://127.0.0.1:1",
		Store:             config.StoreMemory,
		LoginDwell:        time.Millisecond,
		LoginPollInterval: time.Millisecond,
		LoginPollAttempts: 1,
	}
	svcs, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer svcs.Close(context.Background())

	if _, err := svcs.Auth.Login(context.Background()); err == nil {
		t.Fatalf("expected token creation error")
	}
	if svcs.Auth.IsLoginInProgress() {
		t.Fatalf("loading flag still set")
	}
}
