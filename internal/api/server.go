package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/metrics"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Observer is the running session the server exposes
type Observer interface {
	PID() int
	Backend() string
	State() observer.State
	Filter() event.Filter
	AddEvent(kind event.Kind) error
	RemoveEvent(kind event.Kind) error
}

// subscriberBuffer is how many records a slow WebSocket client may lag
// behind before records are dropped for it
const subscriberBuffer = 256

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	observer Observer
	upgrader websocket.Upgrader
	started  time.Time

	mu          sync.RWMutex
	subscribers map[chan event.Record]bool
	ended       bool
	dropped     uint64
}

// NewServer creates a new API server around obs
func NewServer(obs Observer) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		observer:    obs,
		started:     time.Now(),
		subscribers: make(map[chan event.Record]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Event stream
	api.HandleFunc("/events", s.handleEventStream)

	// Session state
	api.HandleFunc("/session", s.handleSession).Methods("GET")

	// Filter mutation
	api.HandleFunc("/filter", s.handleGetFilter).Methods("GET")
	api.HandleFunc("/filter/{kind}", s.handleAddEvent).Methods("POST")
	api.HandleFunc("/filter/{kind}", s.handleRemoveEvent).Methods("DELETE")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler())
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithComponent("api").Info().
		Str("addr", fmt.Sprintf("http://localhost:%d", port)).
		Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast fans events out to every WebSocket subscriber until events is
// closed, then closes all subscriptions.
func (s *Server) Broadcast(events <-chan event.Result) {
	log := logger.WithComponent("api")
	for r := range events {
		rec := event.NewRecord(r)

		s.mu.Lock()
		for ch := range s.subscribers {
			select {
			case ch <- rec:
			default:
				s.dropped++
				log.Warn().Str("kind", rec.Kind).Msg("Subscriber lagging, record dropped")
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.ended = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()
	log.Info().Msg("Event stream ended")
}

// Subscribe returns a channel of records, closed when the stream ends
func (s *Server) Subscribe() chan event.Record {
	ch := make(chan event.Record, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		close(ch)
		return ch
	}
	s.subscribers[ch] = true
	return ch
}

// Unsubscribe removes ch from the fan-out
func (s *Server) Unsubscribe(ch chan event.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[ch] {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	records := s.Subscribe()
	defer s.Unsubscribe(records)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-gone:
			return
		}
	}
}

type sessionStatus struct {
	PID         int      `json:"pid"`
	Backend     string   `json:"backend"`
	State       string   `json:"state"`
	Events      []string `json:"events"`
	Subscribers int      `json:"subscribers"`
	Dropped     uint64   `json:"dropped"`
	Uptime      string   `json:"uptime"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	subscribers, dropped := len(s.subscribers), s.dropped
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, sessionStatus{
		PID:         s.observer.PID(),
		Backend:     s.observer.Backend(),
		State:       s.observer.State().String(),
		Events:      s.observer.Filter().Names(),
		Subscribers: subscribers,
		Dropped:     dropped,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.observer.Filter())
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	s.mutateFilter(w, r, s.observer.AddEvent)
}

func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	s.mutateFilter(w, r, s.observer.RemoveEvent)
}

func (s *Server) mutateFilter(w http.ResponseWriter, r *http.Request, mutate func(event.Kind) error) {
	kind, err := event.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := mutate(kind); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, observer.ErrNotRunning):
			status = http.StatusConflict
		case errors.Is(err, observer.ErrNotSupported):
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	logger.WithComponent("api").Info().
		Str("method", r.Method).
		Stringer("kind", kind).
		Msg("Filter updated")
	writeJSON(w, http.StatusOK, s.observer.Filter())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"session": s.observer.State().String(),
	})
}
