// Package server exposes generation over HTTP. Updates are streamed as
// newline-delimited JSON, one update per line.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/runner"
	"github.com/sweetpotato0/textgen/textgen"
)

// Config holds server configuration.
type Config struct {
	Addr           string   `koanf:"addr"`
	MaxConcurrency int      `koanf:"max_concurrency"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// MaxBodyBytes bounds conversation request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// Server serves generations.
type Server struct {
	cfg        Config
	runner     runner.Runner
	models     []*model.Model
	byName     map[string]*model.Model
	assistants assistant.Store
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server. assistants may be nil.
func New(cfg Config, run runner.Runner, models []*model.Model, assistants assistant.Store) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	s := &Server{
		cfg:        cfg,
		runner:     run,
		models:     models,
		byName:     make(map[string]*model.Model, len(models)),
		assistants: assistants,
		logger:     logging.WithComponent("server"),
	}
	for _, m := range models {
		s.byName[m.Name] = m
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/models", s.handleModels)
	r.Post("/conversation/{id}", s.handleConversation)
	return r
}

// Router returns the router, for tests and embedding.
func (s *Server) Router() chi.Router { return s.router }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("textgen server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models)
}

type conversationRequest struct {
	Model           string             `json:"model"`
	Title           string             `json:"title"`
	Messages        []*message.Message `json:"messages"`
	Preprompt       string             `json:"preprompt"`
	AssistantID     string             `json:"assistantId"`
	WebSearch       bool               `json:"webSearch"`
	ToolsPreference map[string]bool    `json:"toolsPreference"`
	Continue        bool               `json:"continue"`
	Settings        *model.Settings    `json:"settings"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")

	var req conversationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}
	m, ok := s.byName[req.Model]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown model "+req.Model)
		return
	}

	preprompt := req.Preprompt
	if preprompt == "" && req.AssistantID == "" {
		preprompt = m.Preprompt
	}
	c, err := textgen.NewContext(r.Context(), s.assistants, textgen.Context{
		Conversation: textgen.Conversation{
			ID:          convID,
			Title:       req.Title,
			Model:       m.Name,
			Preprompt:   preprompt,
			AssistantID: req.AssistantID,
		},
		Messages:        req.Messages,
		Model:           m,
		WebSearch:       req.WebSearch,
		ToolsPreference: req.ToolsPreference,
		Continue:        req.Continue,
		Settings:        req.Settings,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errorskg.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		s.logger.Error("build generation context failed", "conversation_id", convID, "error", err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	for u, err := range s.runner.Run(r.Context(), c) {
		if err != nil {
			if r.Context().Err() == nil {
				s.logger.Error("generation failed", "conversation_id", convID, "error", err)
				_ = enc.Encode(message.NewStatusUpdate(message.StatusError, err.Error()))
			}
			return
		}
		if err := enc.Encode(u); err != nil {
			s.logger.Debug("client went away", "conversation_id", convID, "error", err)
			return
		}
		_ = rc.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
