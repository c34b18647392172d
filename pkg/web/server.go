// Package web serves the small read-only operator dashboard: login,
// a JWT-protected KPI snapshot, and a websocket stream of counter
// deltas as they're published. No sessions, alarms, topology, or
// configuration surface.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AuthService validates the bearer token on every protected request
// and issues new ones on login.
type AuthService interface {
	Login(username, password string) (token string, err error)
	ValidateToken(token string) (username string, err error)
}

// DataProvider supplies the current KPI snapshot.
type DataProvider interface {
	Snapshot() map[string]int64
}

// Config configures a Server.
type Config struct {
	Addr         string
	AuthService  AuthService
	DataProvider DataProvider
	Logger       zerolog.Logger
}

// Server is the dashboard's HTTP+websocket surface.
type Server struct {
	addr         string
	authService  AuthService
	dataProvider DataProvider
	logger       zerolog.Logger

	server       *http.Server
	upgrader     websocket.Upgrader
	wsClients    map[*websocket.Conn]bool
	wsClientsMux sync.RWMutex
}

// New creates a Server; call Start to begin listening.
func New(cfg Config) *Server {
	return &Server{
		addr:         cfg.Addr,
		authService:  cfg.AuthService,
		dataProvider: cfg.DataProvider,
		logger:       cfg.Logger,
		wsClients:    make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start builds the mux and begins serving. Blocks until the server
// stops; call Stop from another goroutine to shut down gracefully.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/kpis", s.requireAuth(s.handleKPIs))
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("starting dashboard server")
	return s.server.ListenAndServe()
}

// Stop closes every websocket client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.wsClientsMux.Lock()
	for client := range s.wsClients {
		client.Close()
	}
	s.wsClientsMux.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.sendError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		if _, err := s.authService.ValidateToken(parts[1]); err != nil {
			s.sendError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.sendError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := s.authService.Login(creds.Username, creds.Password)
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.dataProvider.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := s.authService.ValidateToken(token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	s.wsClientsMux.Lock()
	s.wsClients[conn] = true
	s.wsClientsMux.Unlock()

	defer func() {
		s.wsClientsMux.Lock()
		delete(s.wsClients, conn)
		s.wsClientsMux.Unlock()
		conn.Close()
	}()

	// The client has no commands to send us; block on reads solely to
	// notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastDelta pushes one counter update to every connected
// websocket client. Intended to be wired as the callback a
// web.BroadcastSink forwards StoreKPI calls through.
func (s *Server) BroadcastDelta(name string, value int64, ts time.Time) {
	payload := map[string]interface{}{
		"name":      name,
		"value":     value,
		"timestamp": ts,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal websocket delta")
		return
	}

	s.wsClientsMux.RLock()
	defer s.wsClientsMux.RUnlock()
	for client := range s.wsClients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send websocket delta")
		}
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode json response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// BroadcastSink wraps another kpi.Sink and additionally pushes every
// StoreKPI call out over the dashboard's websocket connections. Its
// own counter bookkeeping is delegated entirely to the wrapped sink;
// this type exists only to give the Server a wire into the publish
// path without pkg/kpi needing to know pkg/web exists.
type BroadcastSink struct {
	inner  sinkLike
	server *Server
}

// sinkLike is the subset of pkg/kpi.Sink BroadcastSink forwards to,
// declared locally so this package has no import-time dependency on
// pkg/kpi.
type sinkLike interface {
	StoreKPI(name string, value int64, ts time.Time)
	RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string)
}

// NewBroadcastSink wraps inner, broadcasting every StoreKPI call
// through server.
func NewBroadcastSink(inner sinkLike, server *Server) *BroadcastSink {
	return &BroadcastSink{inner: inner, server: server}
}

// StoreKPI forwards to the wrapped sink, then broadcasts the update.
func (b *BroadcastSink) StoreKPI(name string, value int64, ts time.Time) {
	b.inner.StoreKPI(name, value, ts)
	b.server.BroadcastDelta(name, value, ts)
}

// RegisterKPI forwards to the wrapped sink.
func (b *BroadcastSink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
	b.inner.RegisterKPI(category, name, cb, subKeys...)
}
