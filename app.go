package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"butler/internal/auth"
	"butler/internal/config"
	"butler/internal/gateway"
	"butler/internal/services"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// App struct — ponto central do Wails, conecta o serviço de sessão ao frontend
type App struct {
	ctx      context.Context
	services *services.Services
	gateway  *gateway.Server

	// emit e openBrowser são substituídos em testes
	emit        func(eventName string, data interface{})
	openBrowser func(ctx context.Context, url string) error

	mu          sync.Mutex
	unsubscribe []func()
}

// NewApp creates a new App application struct
func NewApp() *App {
	a := &App{}
	a.emit = func(eventName string, data interface{}) {
		if a.ctx == nil {
			return
		}
		runtime.EventsEmit(a.ctx, eventName, data)
	}
	a.openBrowser = func(_ context.Context, url string) error {
		if a.ctx == nil {
			return fmt.Errorf("app not started")
		}
		runtime.BrowserOpenURL(a.ctx, url)
		return nil
	}
	return a
}

// Startup is called when the app starts
// Carrega config, monta o serviço de sessão e conecta os streams ao frontend
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("[BUTLER] Starting up...")

	if err := config.EnsureDataDirs(); err != nil {
		log.Printf("[BUTLER] Error creating data dirs: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("[BUTLER] Invalid configuration: %v", err)
		return
	}

	svcs, err := services.Build(ctx, cfg, a.openBrowser)
	if err != nil {
		log.Printf("[BUTLER] Error initializing session service: %v", err)
		return
	}
	a.attach(svcs)
	log.Println("[BUTLER] Session service initialized")

	a.gateway = gateway.NewServer(svcs.Auth)
	if _, err := a.gateway.Start(cfg.GatewayAddr); err != nil {
		log.Printf("[BUTLER] Session gateway unavailable: %v", err)
		a.gateway = nil
	}
}

// attach liga os streams do serviço aos eventos do frontend
func (a *App) attach(svcs *services.Services) {
	a.services = svcs
	svc := svcs.Auth

	a.mu.Lock()
	defer a.mu.Unlock()
	a.unsubscribe = append(a.unsubscribe,
		svc.User().Subscribe(func(*auth.User) {
			a.emit("auth:changed", svc.GetAuthState())
		}),
		svc.Loading().Subscribe(func(loading bool) {
			a.emit("auth:loading", loading)
		}),
	)
}

// Shutdown is called when the app is shutting down
func (a *App) Shutdown(ctx context.Context) {
	log.Println("[BUTLER] Shutting down...")

	a.mu.Lock()
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	a.unsubscribe = nil
	a.mu.Unlock()

	if a.gateway != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.gateway.Stop(shutdownCtx); err != nil {
			log.Printf("[BUTLER] Error stopping session gateway: %v", err)
		}
		cancel()
	}

	if a.services != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.services.Close(shutdownCtx); err != nil {
			log.Printf("[BUTLER] Error closing services: %v", err)
		}
		cancel()
	}
}

// === Auth Bindings (expostos ao Frontend) ===

// AuthLogin inicia o login no navegador e espera o handshake terminar.
// Retorna nil quando o tempo de espera se esgota.
func (a *App) AuthLogin() (*auth.User, error) {
	if a.services == nil {
		return nil, fmt.Errorf("auth service not initialized")
	}
	defer a.services.Crash.Recover(a.ctx)

	user, err := a.services.Auth.Login(a.ctx)
	if err != nil {
		if !errors.Is(err, auth.ErrLoginCancelled) {
			a.services.Crash.Report(a.ctx, err)
			a.emit("auth:error", err.Error())
		}
		return nil, err
	}
	if user == nil {
		log.Println("[BUTLER] Login timed out")
		a.emit("auth:error", "Login timed out")
		return nil, nil
	}

	a.services.Analytics.Capture("login_completed", nil)
	return user.PublicView(), nil
}

// AuthLogout faz logout do usuário
func (a *App) AuthLogout() error {
	if a.services == nil {
		return nil
	}
	return a.services.Auth.Logout(a.ctx)
}

// GetUser retorna o usuário atual sem credenciais
func (a *App) GetUser() *auth.User {
	if a.services == nil {
		return nil
	}
	return a.services.Auth.CurrentUser().PublicView()
}

// IsLoginInProgress indica se um login está em andamento
func (a *App) IsLoginInProgress() bool {
	if a.services == nil {
		return false
	}
	return a.services.Auth.IsLoginInProgress()
}

// GetAuthState retorna o estado atual de autenticação
func (a *App) GetAuthState() *auth.AuthState {
	if a.services == nil {
		return &auth.AuthState{State: auth.SessionUnknown}
	}
	return a.services.Auth.GetAuthState()
}
