// Package gateway expõe o estado de sessão para observadores locais via WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"butler/internal/auth"
	"butler/internal/reactive"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// SessionSource é o subconjunto do auth.Service que o gateway consome
type SessionSource interface {
	User() reactive.Observable[*auth.User]
	Loading() reactive.Observable[bool]
	State() auth.SessionState
}

// Snapshot é a mensagem enviada a cada mudança de estado
type Snapshot struct {
	State   auth.SessionState `json:"state"`
	User    *auth.User        `json:"user,omitempty"`
	Loading bool              `json:"loading"`
}

// Server serve GET /ws/session e GET /healthz
type Server struct {
	source   SessionSource
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	conns      map[*websocket.Conn]struct{}
}

// NewServer cria o gateway sobre source
func NewServer(source SessionSource) *Server {
	return &Server{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isLocalOrigin,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler retorna as rotas do gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", s.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

// Start escuta em addr e retorna o endereço efetivo
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return "", fmt.Errorf("gateway already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start gateway: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[GATEWAY] Server error: %v", err)
		}
	}()

	actual := listener.Addr().String()
	log.Printf("[GATEWAY] Listening on ws://%s/ws/session", actual)
	return actual, nil
}

// Stop encerra o servidor e fecha as conexões abertas
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if srv == nil {
		return nil
	}
	log.Println("[GATEWAY] Stopped")
	return srv.Shutdown(ctx)
}

// HandleWebSocket envia um Snapshot inicial e outro a cada mudança de
// usuário ou de loading até o cliente desconectar.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[GATEWAY] Upgrade error: %v", err)
		return
	}
	s.track(conn, true)
	defer s.track(conn, false)
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Leitura só para detectar desconexão.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	users := reactive.Watch(ctx, s.source.User())
	loadings := reactive.Watch(ctx, s.source.Loading())

	var snapshot Snapshot
	snapshot.State = s.source.State()
	if err := s.write(conn, snapshot); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case user, ok := <-users:
			if !ok {
				return
			}
			snapshot.User = user.PublicView()
		case loading, ok := <-loadings:
			if !ok {
				return
			}
			snapshot.Loading = loading
		}
		snapshot.State = s.source.State()
		if err := s.write(conn, snapshot); err != nil {
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, snapshot Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Printf("[GATEWAY] Write error: %v", err)
		return err
	}
	return nil
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// isLocalOrigin aceita apenas clientes locais (ou sem Origin, como CLIs).
func isLocalOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "wails" {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
