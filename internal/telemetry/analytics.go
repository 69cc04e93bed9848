package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"butler/internal/auth"
	"butler/internal/security"

	"github.com/google/uuid"
)

const (
	defaultQueueSize  = 64
	sendTimeout       = 10 * time.Second
	anonymousIDPrefix = "anon-"
	identifyEventName = "$identify"
	analyticsCapture  = "/capture/"
)

// AnalyticsConfig configura o AnalyticsSink
type AnalyticsConfig struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
	QueueSize  int
}

// CaptureEvent é o payload aceito pelo endpoint de captura (formato PostHog)
type CaptureEvent struct {
	APIKey     string                 `json:"api_key"`
	Event      string                 `json:"event"`
	DistinctID string                 `json:"distinct_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AnalyticsSink envia eventos de analytics marcados com a identidade atual.
// Os envios acontecem num worker em background; Close drena a fila.
type AnalyticsSink struct {
	endpoint  string
	apiKey    string
	client    *http.Client
	sanitizer *security.LogSanitizer

	mu         sync.Mutex
	distinctID string
	closed     bool

	queue chan CaptureEvent
	done  chan struct{}
}

// NewAnalyticsSink cria o sink. Sem APIKey nenhum evento é enviado.
func NewAnalyticsSink(cfg AnalyticsConfig) *AnalyticsSink {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: sendTimeout}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	a := &AnalyticsSink{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		client:     cfg.HTTPClient,
		sanitizer:  security.NewLogSanitizer(),
		distinctID: newAnonymousID(),
		queue:      make(chan CaptureEvent, cfg.QueueSize),
		done:       make(chan struct{}),
	}
	go a.run()

	if !a.Enabled() {
		log.Println("[TELEMETRY] Analytics disabled (no API key)")
	}
	return a
}

// Enabled indica se eventos são enviados
func (a *AnalyticsSink) Enabled() bool {
	return a.apiKey != "" && a.endpoint != ""
}

// DistinctID retorna o identificador usado nos eventos atuais
func (a *AnalyticsSink) DistinctID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distinctID
}

// Identify associa os próximos eventos ao usuário e envia $identify.
func (a *AnalyticsSink) Identify(user *auth.User) {
	if user == nil {
		return
	}
	userID := strconv.FormatInt(user.ID, 10)

	a.mu.Lock()
	previous := a.distinctID
	a.distinctID = userID
	a.mu.Unlock()

	set := map[string]interface{}{}
	if user.Email != "" {
		set["email"] = user.Email
	}
	if user.Name != "" {
		set["name"] = user.Name
	}
	if user.GitHubUsername != "" {
		set["github_username"] = user.GitHubUsername
	}

	a.enqueue(CaptureEvent{
		Event:      identifyEventName,
		DistinctID: userID,
		Properties: map[string]interface{}{
			"$anon_distinct_id": previous,
			"$set":              set,
		},
	})
}

// Reset volta para um identificador anônimo novo.
func (a *AnalyticsSink) Reset() {
	a.mu.Lock()
	a.distinctID = newAnonymousID()
	a.mu.Unlock()
}

// Capture envia um evento com o identificador atual
func (a *AnalyticsSink) Capture(event string, properties map[string]interface{}) {
	a.enqueue(CaptureEvent{
		Event:      event,
		DistinctID: a.DistinctID(),
		Properties: properties,
	})
}

// Close para de aceitar eventos e espera a fila esvaziar ou ctx terminar.
func (a *AnalyticsSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AnalyticsSink) enqueue(ev CaptureEvent) {
	if !a.Enabled() {
		return
	}
	ev.APIKey = a.apiKey
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		log.Printf("[TELEMETRY] Analytics queue full, dropping %s", ev.Event)
	}
}

func (a *AnalyticsSink) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.send(ev); err != nil {
			log.Printf("[TELEMETRY] Failed to send %s: %s", ev.Event, a.sanitizer.Sanitize(err.Error()))
		}
	}
}

func (a *AnalyticsSink) send(ev CaptureEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+analyticsCapture, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("capture returned status %d", resp.StatusCode)
	}
	return nil
}

func newAnonymousID() string {
	return anonymousIDPrefix + uuid.NewString()
}
