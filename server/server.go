// Package server は HTTP API とセッションイベントの WebSocket 配信を提供します。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/builder"
	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/dialogue"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/session"
	"github.com/sat8bit/nexus/store"
	"github.com/sat8bit/nexus/turn"
	"github.com/sat8bit/nexus/voice"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 64 << 20
	// 生成を伴うリクエストの上限。コンセプト4枚やプロフィール生成は数十秒かかる
	generationTimeout = 5 * time.Minute
)

type Config struct {
	Addr        string
	Sessions    *session.Registry
	Builder     *builder.Builder
	Catalog     *relationship.Catalog
	Transcriber voice.Transcriber
	// Diagnostics は buslog が書き込むログ用のバスです。nil なら診断配信は無効です。
	Diagnostics bus.Bus
	Now         func() time.Time
}

type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	sessions    *session.Registry
	builder     *builder.Builder
	catalog     *relationship.Catalog
	transcriber voice.Transcriber
	diagnostics bus.Bus
	upgrader    websocket.Upgrader
	now         func() time.Time
}

func New(cfg Config) *Server {
	s := &Server{
		sessions:    cfg.Sessions,
		builder:     cfg.Builder,
		catalog:     cfg.Catalog,
		transcriber: cfg.Transcriber,
		diagnostics: cfg.Diagnostics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/catalog", s.handleGetCatalog)

		r.Route("/builder", func(r chi.Router) {
			r.Get("/", s.handleBuilderStatus)
			r.Get("/prompts", s.handleSuggestPrompts)
			r.Post("/concepts", s.handleGenerateConcepts)
			r.Post("/build", s.handleBuildFromConcept)
			r.Post("/upload", s.handleBuildFromUpload)
			r.Post("/reset", s.handleBuilderReset)
			r.Post("/retry", s.handleBuilderRetry)
		})

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/import", s.handleImportSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/history", s.handleGetHistory)
			r.Get("/image", s.handleGetImage)
			r.Get("/export", s.handleExport)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/events", s.handleEvents)

			r.Post("/turns", s.handleTurn)
			r.Post("/voice", s.handleVoiceTurn)
			r.Post("/quests/start", s.handleStartQuest)
			r.Post("/rewards/{rewardID}/unlock", s.handleUnlockReward)
			r.Post("/modify", s.handleModifyImage)
			r.Post("/apparel/toggle", s.handleToggleApparel)
			r.Put("/environment", s.handleSetEnvironment)
			r.Post("/shop/buy", s.handleBuy)
			r.Post("/inventory/use", s.handleUse)
			r.Post("/rename", s.handleRename)
			r.Post("/reroll-name", s.handleRerollName)
			r.Put("/view", s.handleSetView)
			r.Put("/tts", s.handleSetTTS)
			r.Put("/pin", s.handlePin)
			r.Delete("/pin", s.handleUnpin)
		})
	})

	s.router = r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Server.Start: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	body := map[string]string{"error": err.Error()}
	if stage, ok := gateway.StageOf(err); ok {
		body["stage"] = string(stage)
	}
	s.respondJSON(w, status, body)
}

func statusFor(err error) int {
	var invalid *archive.InvalidBundleError
	var genErr *gateway.GenerationError
	var malformed *gateway.MalformedResponseError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, relationship.ErrUnknownReward):
		return http.StatusNotFound
	case errors.Is(err, turn.ErrBusy),
		errors.Is(err, builder.ErrBusy),
		errors.Is(err, builder.ErrSuperseded),
		errors.Is(err, builder.ErrNotFailed),
		errors.Is(err, relationship.ErrRewardAlreadyUnlocked):
		return http.StatusConflict
	case errors.Is(err, relationship.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.As(err, &invalid),
		errors.Is(err, errBadRequest),
		errors.Is(err, dialogue.ErrEmptyTurn),
		errors.Is(err, dialogue.ErrUnknownQuest),
		errors.Is(err, dialogue.ErrNotInGallery),
		errors.Is(err, dialogue.ErrNothingToDraw),
		errors.Is(err, relationship.ErrUnknownItem),
		errors.Is(err, relationship.ErrNotInInventory),
		errors.Is(err, relationship.ErrUnknownEnvironment):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrIncomplete),
		errors.Is(err, voice.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoTranscriber):
		return http.StatusNotImplemented
	case errors.Is(err, dialogue.ErrClosed):
		return http.StatusGone
	case errors.As(err, &genErr), errors.As(err, &malformed), errors.Is(err, builder.ErrNoConcepts):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var (
	errBadRequest    = errors.New("bad request")
	errNoTranscriber = errors.New("speech-to-text is not configured")
)

func decodeJSON(r *http.Request, v any) error {
	return decodeJSONLimit(r, v, maxJSONBody)
}

func decodeJSONLimit(r *http.Request, v any, limit int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), generationTimeout)
}
