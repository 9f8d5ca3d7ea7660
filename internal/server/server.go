// Package server exposes the engine over HTTP: chat, event streams (SSE,
// poll, websocket), health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1enterprisesight/agent-profiler/internal/event"
	"github.com/1enterprisesight/agent-profiler/internal/orchestrator"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
	"github.com/1enterprisesight/agent-profiler/internal/version"
)

// workflowTimeout bounds a background workflow started by /api/chat.
const workflowTimeout = 5 * time.Minute

type userIDKey struct{}

// Server routes HTTP traffic to the engine and the event trail.
type Server struct {
	engine   *orchestrator.Engine
	events   *store.EventStore
	messages *store.MessageStore
	bus      *event.Bus
	router   chi.Router
}

func New(engine *orchestrator.Engine, events *store.EventStore, messages *store.MessageStore, bus *event.Bus) *Server {
	s := &Server{
		engine:   engine,
		events:   events,
		messages: messages,
		bus:      bus,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/chat", s.handleChat)
		r.Route("/stream/events/{session}", func(r chi.Router) {
			r.Get("/", s.handleSSE)
			r.Get("/poll", s.handlePoll)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireUser resolves the caller's identity from the X-User-ID header, or
// the user_id query parameter for EventSource clients that cannot set
// headers. No identity means 401: events are never served unscoped.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "user id required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleChat starts a workflow in the background and returns the session id
// immediately. Progress and the final answer flow through the event stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	uid := userID(r)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), workflowTimeout)
		defer cancel()
		if _, err := s.engine.HandleQuery(ctx, req.SessionID, uid, req.Message); err != nil {
			log.Printf("server: workflow %s: %v", req.SessionID, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(chatResponse{SessionID: req.SessionID, Status: "processing"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
