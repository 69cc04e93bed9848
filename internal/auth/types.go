package auth

import (
	"context"
	"time"
)

// User representa o usuário autenticado na cloud
type User struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name,omitempty"`
	GivenName         string    `json:"given_name,omitempty"`
	FamilyName        string    `json:"family_name,omitempty"`
	Email             string    `json:"email,omitempty"`
	Picture           string    `json:"picture,omitempty"`
	Locale            string    `json:"locale,omitempty"`
	Role              string    `json:"role,omitempty"`
	Supporter         bool      `json:"supporter"`
	AccessToken       string    `json:"access_token"`
	GitHubAccessToken string    `json:"github_access_token,omitempty"`
	GitHubUsername    string    `json:"github_username,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PublicView retorna uma cópia sem credenciais, segura para observadores externos.
func (u *User) PublicView() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.AccessToken = ""
	clone.GitHubAccessToken = ""
	return &clone
}

// LoginToken é a credencial de curta duração de uma tentativa de login.
// Nunca é persistida.
type LoginToken struct {
	Token   string `json:"token"`
	URL     string `json:"url"`
	Expires string `json:"expires,omitempty"`
}

// SessionState é o estado observado pelos consumidores
type SessionState string

const (
	SessionUnknown       SessionState = "unknown"
	SessionAnonymous     SessionState = "anonymous"
	SessionAuthenticated SessionState = "authenticated"
)

// AuthState é o snapshot exposto ao frontend
type AuthState struct {
	State           SessionState `json:"state"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	User            *User        `json:"user,omitempty"`
	Loading         bool         `json:"loading"`
	HasGitHubToken  bool         `json:"hasGitHubToken"`
}

// Store persiste o registro do usuário. Load retorna (nil, nil) quando não há registro.
type Store interface {
	Load(ctx context.Context) (*User, error)
	Save(ctx context.Context, user *User) error
	Delete(ctx context.Context) error
}

// CloudClient é o cliente da API remota usado no handshake de login.
type CloudClient interface {
	CreateLoginToken(ctx context.Context) (*LoginToken, error)
	GetLoginUser(ctx context.Context, token string) (*User, error)
}

// TelemetrySink recebe a identidade atual para marcar eventos e crashes.
type TelemetrySink interface {
	Identify(user *User)
	Reset()
}

// URLOpener abre uma URL no navegador externo.
type URLOpener func(ctx context.Context, url string) error
