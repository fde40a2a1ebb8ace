package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"attentrack/internal/event"
	"attentrack/internal/experiment"
	"attentrack/internal/indicator"
	"attentrack/internal/session"
	"attentrack/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AnalysisReader is the read side of the store used by the HTTP API.
type AnalysisReader interface {
	GetAnalysis(ctx context.Context, sessionID string) (experiment.Analysis, error)
	ListAnalyses(ctx context.Context, limit int) ([]experiment.Analysis, error)
	GetPhaseRecords(ctx context.Context, sessionID string) ([]experiment.PhaseRecord, error)
}

type SessionOpenedPayload struct {
	SessionID string `json:"session_id"`
}

type IndicatorEventPayload struct {
	Line string `json:"line"`
}

type IndicatorWritePayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Options struct {
	Registry       *session.Registry
	Store          AnalysisReader
	Indicator      indicator.Device
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server accepts participant WebSocket connections and serves the read-only
// HTTP API.
type Server struct {
	registry  *session.Registry
	store     AnalysisReader
	indicator indicator.Device
	upgrader  websocket.Upgrader
	log       *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Indicator == nil {
		opts.Indicator = indicator.Noop{}
	}
	s := &Server{
		registry:  opts.Registry,
		store:     opts.Store,
		indicator: opts.Indicator,
		log:       opts.Logger.Named("transport"),
		clients:   make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Routes sets up all HTTP routes.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/ws", s.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/sessions", s.ListSessions)
		r.Get("/analyses", s.ListAnalyses)
		r.Get("/analyses/{id}", s.GetAnalysis)
		r.Get("/analyses/{id}/records", s.GetPhaseRecords)
	})
	return r
}

// Broadcast sends one message to every connected client.
func (s *Server) Broadcast(name event.Name, payload any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.Emit(name, payload)
	}
}

// IndicatorLine relays a line read back from the indicator device.
func (s *Server) IndicatorLine(line string) {
	s.log.Info("Indicator event", zap.String("line", line))
	s.Broadcast(event.IndicatorEvent, IndicatorEventPayload{Line: line})
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll disconnects every client.
func (s *Server) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
}

// ServeWS upgrades the request and runs the connection until it closes. Each
// connection gets its own session.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("session_id", id))
	c := newClient(id, conn, log)

	if _, err := s.registry.Open(id, c); err != nil {
		log.Error("Failed to open session", zap.Error(err))
		conn.Close()
		return
	}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	log.Info("Client connected", zap.String("remote", r.RemoteAddr))
	c.Emit(event.SessionOpened, SessionOpenedPayload{SessionID: id})

	go c.writePump()
	s.readPump(c)

	s.registry.Close(id)
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	c.close()
	log.Info("Client disconnected")
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env event.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected close", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !s.dispatch(c, env) {
			return
		}
	}
}

// dispatch routes one inbound message. It returns false when the client asked
// to end the session.
func (s *Server) dispatch(c *client, env event.Envelope) bool {
	switch env.Event {
	case event.StartWithConfig:
		var cfg experiment.Config
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			c.Emit(event.ConfigRejected, experiment.ConfigRejectedPayload{Reason: "malformed configuration: " + err.Error()})
			return true
		}
		s.registry.Dispatch(c.id, session.StartCmd{Config: cfg})

	case event.GazeSample, event.GazeData:
		var p event.GazePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Debug("Malformed gaze sample dropped", zap.Error(err))
			return true
		}
		if p.X == nil || p.Y == nil {
			c.log.Debug("Gaze sample without coordinates dropped")
			return true
		}
		s.registry.Dispatch(c.id, session.GazeCmd{X: *p.X, Y: *p.Y})

	case event.Selection:
		var p event.SelectionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Debug("Malformed selection dropped", zap.Error(err))
			return true
		}
		s.registry.Dispatch(c.id, session.SelectCmd{Answer: p.Answer})

	case event.PhaseTimeout:
		s.registry.Dispatch(c.id, session.PhaseTimeoutCmd{})

	case event.SendToIndicator:
		c.Emit(event.IndicatorWrite, s.writeIndicator(env.Data))

	case event.SessionClosed:
		return false

	default:
		c.log.Debug("Unknown event ignored", zap.String("event", string(env.Event)))
	}
	return true
}

func (s *Server) writeIndicator(data json.RawMessage) IndicatorWritePayload {
	var p event.IndicatorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return IndicatorWritePayload{Error: err.Error()}
	}
	if p.On != nil {
		s.indicator.Set(*p.On)
		return IndicatorWritePayload{Success: true}
	}
	if err := s.indicator.Write(p.Text); err != nil {
		return IndicatorWritePayload{Error: err.Error()}
	}
	return IndicatorWritePayload{Success: true}
}

// --- HTTP API ---

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.store.ListAnalyses(r.Context(), limit)
	if err != nil {
		s.log.Error("Failed to list analyses", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list analyses", err.Error())
		return
	}
	if list == nil {
		list = []experiment.Analysis{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.store.GetAnalysis(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "analysis not found", id)
		return
	}
	if err != nil {
		s.log.Error("Failed to get analysis", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get analysis", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) GetPhaseRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := s.store.GetPhaseRecords(r.Context(), id)
	if err != nil {
		s.log.Error("Failed to get phase records", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get phase records", err.Error())
		return
	}
	if records == nil {
		records = []experiment.PhaseRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	respondJSON(w, status, errorResponse{Error: msg, Details: details})
}
