package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"butler/internal/config"
	"butler/internal/reactive"
)

// ErrLoginCancelled é retornado quando um login em andamento é substituído por
// outro login ou interrompido por um logout.
var ErrLoginCancelled = errors.New("login cancelled")

// Options controla os tempos do handshake de login
type Options struct {
	// Dwell é a espera mínima antes da primeira consulta
	Dwell time.Duration
	// PollInterval é a espera entre consultas
	PollInterval time.Duration
	// MaxAttempts limita o número de consultas
	MaxAttempts int
	// Sleep suspende a chamada por d ou até ctx terminar
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions retorna os tempos padrão (4s de espera, 120 consultas a cada 1s)
func DefaultOptions() Options {
	return Options{
		Dwell:        config.LoginDwell,
		PollInterval: config.LoginPollInterval,
		MaxAttempts:  config.LoginPollAttempts,
		Sleep:        sleepContext,
	}
}

// ServiceDeps agrupa os colaboradores do Service
type ServiceDeps struct {
	Store   Store
	Cloud   CloudClient
	Sinks   []TelemetrySink
	OpenURL URLOpener
	Options Options
}

// Service mantém a sessão do usuário: carrega a identidade persistida,
// conduz o login externo e distribui a identidade atual para todos os
// observadores a partir de um único stream compartilhado.
type Service struct {
	store   Store
	cloud   CloudClient
	sinks   []TelemetrySink
	openURL URLOpener
	opts    Options

	user    *reactive.Subject[*User]
	loading *reactive.Subject[bool]

	mu          sync.Mutex
	loginSeq    uint64
	cancelLogin context.CancelFunc

	loadingMu    sync.Mutex
	activeLogins int

	tagMu  sync.Mutex
	tagged bool

	startOnce     sync.Once
	stopTelemetry func()
}

// NewService cria o serviço de sessão. Nada é carregado até Start ou a
// primeira inscrição em User.
func NewService(deps ServiceDeps) *Service {
	opts := deps.Options
	defaults := DefaultOptions()
	if opts.Dwell == 0 && opts.PollInterval == 0 && opts.MaxAttempts == 0 && opts.Sleep == nil {
		opts = defaults
	}
	if opts.Dwell < 0 {
		opts.Dwell = 0
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.Sleep == nil {
		opts.Sleep = defaults.Sleep
	}

	s := &Service{
		store:   deps.Store,
		cloud:   deps.Cloud,
		sinks:   deps.Sinks,
		openURL: deps.OpenURL,
		opts:    opts,
		loading: reactive.NewSubject(false),
	}
	s.user = reactive.NewLazySubject(context.Background(), s.loadPersistedUser)
	return s
}

// Start conecta os sinks de telemetria ao stream de identidade, o que dispara
// o carregamento inicial do usuário persistido.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.stopTelemetry = s.user.Subscribe(s.tagTelemetry)
		log.Println("[AUTH] Session service started")
	})
}

// Close interrompe um login em andamento e desliga o observador de telemetria.
func (s *Service) Close() {
	s.cancelInFlight()
	if s.stopTelemetry != nil {
		s.stopTelemetry()
	}
}

// Ready fecha quando o carregamento inicial terminou.
func (s *Service) Ready() <-chan struct{} {
	return s.user.Loaded()
}

// User é o stream da identidade atual (nil = anônimo). Observadores rodam
// de forma síncrona e não devem chamar Login/Logout/SetUser no callback.
func (s *Service) User() reactive.Observable[*User] {
	return s.user
}

// AccessToken projeta o token GitHub do usuário e só emite quando ele muda.
func (s *Service) AccessToken() reactive.Observable[string] {
	return reactive.Distinct[*User, string](s.user, func(u *User) string {
		if u == nil {
			return ""
		}
		return u.GitHubAccessToken
	})
}

// Loading indica se há um login em andamento.
func (s *Service) Loading() reactive.Observable[bool] {
	return s.loading
}

// IsLoginInProgress retorna o valor atual de Loading.
func (s *Service) IsLoginInProgress() bool {
	loading, _ := s.loading.Latest()
	return loading
}

// CurrentUser retorna a identidade publicada mais recente.
func (s *Service) CurrentUser() *User {
	user, _ := s.user.Latest()
	return user
}

// State retorna o estado lógico da sessão.
func (s *Service) State() SessionState {
	user, has := s.user.Latest()
	switch {
	case has && user != nil:
		return SessionAuthenticated
	case has:
		return SessionAnonymous
	}
	select {
	case <-s.user.Loaded():
		return SessionAnonymous
	default:
		return SessionUnknown
	}
}

// GetAuthState retorna o snapshot completo para o frontend
func (s *Service) GetAuthState() *AuthState {
	user := s.CurrentUser()
	return &AuthState{
		State:           s.State(),
		IsAuthenticated: user != nil,
		User:            user.PublicView(),
		Loading:         s.IsLoginInProgress(),
		HasGitHubToken:  user != nil && user.GitHubAccessToken != "",
	}
}

// GetGitHubToken retorna o token GitHub para integrações
func (s *Service) GetGitHubToken() (string, error) {
	user := s.CurrentUser()
	if user == nil || user.GitHubAccessToken == "" {
		return "", fmt.Errorf("not authenticated with GitHub")
	}
	return user.GitHubAccessToken, nil
}

// SetUser persiste e publica user. nil equivale a Logout.
func (s *Service) SetUser(ctx context.Context, user *User) error {
	if user == nil {
		return s.Logout(ctx)
	}
	if err := s.store.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.user.Publish(user)
	return nil
}

// ClearUser apaga o registro persistido sem alterar o estado publicado.
func (s *Service) ClearUser(ctx context.Context) error {
	if err := s.store.Delete(ctx); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// Logout interrompe qualquer login em andamento, apaga o registro persistido,
// publica "sem usuário" e reseta os sinks de telemetria. É idempotente.
func (s *Service) Logout(ctx context.Context) error {
	s.cancelInFlight()
	return s.resetSession(ctx)
}

// Login conduz o handshake externo: pede um token, abre o navegador e consulta
// a API até o login concluir. Retorna (nil, nil) se as tentativas se esgotarem.
func (s *Service) Login(ctx context.Context) (*User, error) {
	loginCtx, seq, done := s.beginLogin(ctx)
	defer done()

	if err := s.resetSession(loginCtx); err != nil {
		log.Printf("[AUTH] Logout before login failed: %v", err)
	}

	token, err := s.cloud.CreateLoginToken(loginCtx)
	if err != nil {
		if loginCtx.Err() != nil {
			return nil, interrupted(ctx)
		}
		log.Printf("[AUTH] Failed to create login token: %v", err)
		return nil, fmt.Errorf("create login token: %w", err)
	}

	s.openBrowser(loginCtx, token.URL)

	if err := s.opts.Sleep(loginCtx, s.opts.Dwell); err != nil {
		return nil, interrupted(ctx)
	}

	return s.pollForUser(loginCtx, ctx, seq, token.Token)
}

func (s *Service) pollForUser(ctx, parent context.Context, seq uint64, token string) (*User, error) {
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		user, err := s.cloud.GetLoginUser(ctx, token)
		if err == nil && user != nil {
			if !s.adopt(ctx, seq, user) {
				return nil, interrupted(parent)
			}
			log.Printf("[AUTH] Login completed for user %d after %d attempt(s)", user.ID, attempt)
			return user, nil
		}
		if ctx.Err() != nil {
			return nil, interrupted(parent)
		}
		if attempt == s.opts.MaxAttempts {
			break
		}
		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			return nil, interrupted(parent)
		}
	}

	log.Printf("[AUTH] Login polling exhausted after %d attempts", s.opts.MaxAttempts)
	return nil, nil
}

// adopt persiste e publica o usuário se o login seq ainda for o atual.
// Falha ao persistir não impede a publicação em memória.
func (s *Service) adopt(ctx context.Context, seq uint64, user *User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loginSeq != seq || ctx.Err() != nil {
		return false
	}
	if err := s.store.Save(ctx, user); err != nil {
		log.Printf("[AUTH] Failed to persist user %d: %v", user.ID, err)
	}
	s.user.Publish(user)
	return true
}

func (s *Service) beginLogin(ctx context.Context) (context.Context, uint64, func()) {
	s.setLoading(1)

	s.mu.Lock()
	if s.cancelLogin != nil {
		log.Println("[AUTH] Cancelling previous login attempt")
		s.cancelLogin()
	}
	loginCtx, cancel := context.WithCancel(ctx)
	s.loginSeq++
	seq := s.loginSeq
	s.cancelLogin = cancel
	s.mu.Unlock()

	return loginCtx, seq, func() {
		cancel()
		s.mu.Lock()
		if s.loginSeq == seq {
			s.cancelLogin = nil
		}
		s.mu.Unlock()
		s.setLoading(-1)
	}
}

func (s *Service) cancelInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLogin != nil {
		s.cancelLogin()
		s.cancelLogin = nil
	}
	// Invalida publicações de logins antigos.
	s.loginSeq++
}

func (s *Service) setLoading(delta int) {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()

	s.activeLogins += delta
	if s.activeLogins < 0 {
		s.activeLogins = 0
	}
	want := s.activeLogins > 0
	if current, _ := s.loading.Latest(); current != want {
		s.loading.Publish(want)
	}
}

func (s *Service) resetSession(ctx context.Context) error {
	err := s.ClearUser(ctx)
	s.user.Publish(nil)
	s.resetSinks()
	return err
}

func (s *Service) openBrowser(ctx context.Context, url string) {
	if s.openURL == nil {
		log.Printf("[AUTH] Open this URL to continue login: %s", url)
		return
	}
	if err := s.openURL(ctx, url); err != nil {
		log.Printf("[AUTH] Could not open browser: %v", err)
	}
}

func (s *Service) loadPersistedUser(ctx context.Context) (*User, bool, error) {
	user, err := s.store.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load persisted user: %w", err)
	}
	if user == nil {
		log.Println("[AUTH] No persisted session")
		return nil, false, nil
	}
	log.Printf("[AUTH] Restored session for user %d", user.ID)
	return user, true, nil
}

// tagTelemetry observa o stream de identidade. Uma identidade nova sempre
// limpa a anterior nos sinks antes de ser marcada.
func (s *Service) tagTelemetry(user *User) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	if user == nil {
		s.tagged = false
		return
	}
	if s.tagged {
		for _, sink := range s.sinks {
			sink.Reset()
		}
	}
	for _, sink := range s.sinks {
		sink.Identify(user)
	}
	s.tagged = true
}

func (s *Service) resetSinks() {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	for _, sink := range s.sinks {
		sink.Reset()
	}
	s.tagged = false
}

func interrupted(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrLoginCancelled
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
