package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"butler/internal/config"
	"butler/internal/security"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 1 << 20
)

// ErrLoginPending indica que o usuário ainda não concluiu o login no navegador.
var ErrLoginPending = errors.New("login not completed yet")

// APIClient fala com a API cloud via HTTP/JSON
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	sanitizer  *security.LogSanitizer
}

// NewAPIClient cria um cliente para a API em baseURL
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		sanitizer:  security.NewLogSanitizer(),
	}
}

// CreateLoginToken pede um novo token de login de uso único
func (c *APIClient) CreateLoginToken(ctx context.Context) (*LoginToken, error) {
	var token LoginToken
	if err := c.do(ctx, http.MethodPost, "/login/token.json", []byte("{}"), &token); err != nil {
		return nil, err
	}
	if token.Token == "" || token.URL == "" {
		return nil, fmt.Errorf("login token response missing token or url")
	}
	return &token, nil
}

// GetLoginUser consulta o resultado do login associado ao token de polling.
func (c *APIClient) GetLoginUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("empty login token")
	}
	var user User
	if err := c.do(ctx, http.MethodGet, "/login/user/"+url.PathEscape(token)+".json", nil, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 && user.AccessToken == "" {
		return nil, ErrLoginPending
	}
	return &user, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.AppName+"/"+config.AppVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, c.sanitizer.SanitizeURL(endpoint), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		summary := summarizeAuthErrorBody(payload)
		log.Printf("[AUTH] %s %s returned %d: %s", method, c.sanitizer.SanitizeURL(endpoint), resp.StatusCode, summary)
		return &APIError{StatusCode: resp.StatusCode, Message: summary}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// APIError é uma resposta não-2xx da API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// summarizeAuthErrorBody extrai uma mensagem segura do corpo de erro.
// Nunca ecoa o payload bruto, que pode conter tokens.
func summarizeAuthErrorBody(body []byte) string {
	const fallback = "authentication provider returned an error"

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return fallback
	}
	for _, key := range []string{"error_description", "message", "msg", "error"} {
		if value, ok := fields[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return fallback
}
