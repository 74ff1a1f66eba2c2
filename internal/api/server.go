package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yangwenmai/retromag/internal/draft"
	"github.com/yangwenmai/retromag/internal/edit"
	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/model"
	"github.com/yangwenmai/retromag/internal/orchestrator"
	"github.com/yangwenmai/retromag/internal/session"
	"github.com/yangwenmai/retromag/internal/store"
	"github.com/yangwenmai/retromag/internal/worker"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Server holds the HTTP handlers and dependencies.
type Server struct {
	sess      *session.Session
	jobs      *worker.Worker
	engine    *gin.Engine
	log       *logger.Logger
	origin    string
	heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithCORSOrigin sets the allowed origins, comma separated. "*" allows all.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.origin = origin }
}

// WithHeartbeat sets the keep-alive interval of the progress stream.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// New creates a new API server. Long generations are handed to jobs.
func New(sess *session.Session, jobs *worker.Worker, opts ...Option) *Server {
	s := &Server{
		sess:      sess,
		jobs:      jobs,
		log:       logger.NewNop(),
		origin:    "*",
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(s.log), corsMiddleware(s.origin), limitBody())
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.POST("/magazines", s.handleNewMagazine)

	mag := api.Group("/magazine")
	mag.GET("", s.handleGetMagazine)
	mag.DELETE("", s.handleDiscard)
	mag.POST("/resume", s.handleResume)
	mag.PUT("/fields", s.handleEditField)
	mag.PUT("/prompts", s.handleEditPrompt)
	mag.GET("/fields/history", s.handleFieldHistory)
	mag.POST("/undo", s.handleUndo)
	mag.POST("/redo", s.handleRedo)
	mag.POST("/prompts/reset", s.handleResetPrompt)
	mag.POST("/units/:unit/generate", s.handleGenerateUnit)
	mag.POST("/generate-all", s.handleGenerateAll)
	mag.POST("/images/regenerate", s.handleRegenerateImage)
	mag.GET("/progress", s.handleProgress)
	mag.PUT("/view", s.handleSetView)
	mag.POST("/snapshots", s.handleSaveSnapshot)
	mag.GET("/snapshots", s.handleListSnapshots)
	mag.POST("/snapshots/:index/revert", s.handleRevertSnapshot)

	api.GET("/identity", s.handleGetIdentity)
	api.PUT("/identity", s.handleSaveIdentity)
	api.POST("/identity/logo", s.handleGenerateLogo)
	api.POST("/concepts", s.handleEditorialConcept)
	api.GET("/final-draft", s.handleFinalDraft)
	api.GET("/articles/:id/comments", s.handleListComments)
	api.POST("/articles/:id/comments", s.handleAddComment)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func corsMiddleware(origin string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	origins := splitComma(origin)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// respondErr maps a domain error to its status code.
func (s *Server) respondErr(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	writeError(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrUnknownField):
		return http.StatusBadRequest, "unknown_field"
	case errors.Is(err, model.ErrFieldOutOfRange):
		return http.StatusBadRequest, "field_out_of_range"
	case errors.Is(err, edit.ErrWrongNamespace):
		return http.StatusBadRequest, "wrong_namespace"
	case errors.Is(err, session.ErrUnknownView):
		return http.StatusBadRequest, "unknown_view"
	case errors.Is(err, store.ErrEmptyComment):
		return http.StatusBadRequest, "empty_comment"
	case errors.Is(err, model.ErrInvalidConceptInputs):
		return http.StatusBadRequest, "invalid_concept_inputs"
	case errors.Is(err, gateway.ErrEmptyTopic):
		return http.StatusBadRequest, "empty_topic"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"

	case errors.Is(err, draft.ErrNoDraft):
		return http.StatusNotFound, "no_draft"
	case errors.Is(err, draft.ErrUnknownUnit):
		return http.StatusNotFound, "unknown_unit"
	case errors.Is(err, store.ErrNoSavedData):
		return http.StatusNotFound, "no_saved_data"
	case errors.Is(err, session.ErrSnapshotIndex):
		return http.StatusNotFound, "snapshot_not_found"
	case errors.Is(err, edit.ErrNoLastEdit):
		return http.StatusNotFound, "no_last_edit"

	case errors.Is(err, store.ErrSaveCorrupted):
		return http.StatusUnprocessableEntity, "save_corrupted"

	case errors.Is(err, draft.ErrUnitBusy):
		return http.StatusConflict, "unit_busy"
	case errors.Is(err, orchestrator.ErrRegenerationInFlight):
		return http.StatusConflict, "regeneration_in_flight"
	case errors.Is(err, orchestrator.ErrBatchRunning):
		return http.StatusConflict, "batch_running"
	case errors.Is(err, session.ErrGenerationActive):
		return http.StatusConflict, "generation_active"
	case errors.Is(err, draft.ErrStaleLease):
		return http.StatusConflict, "stale_draft"
	case errors.Is(err, worker.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued"
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusConflict, "queue_full"
	case errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable, "shutting_down"
	}

	if kind, ok := model.KindOf(err); ok {
		if kind == model.FailurePersistence {
			return http.StatusInternalServerError, string(kind)
		}
		return http.StatusBadGateway, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

var errBadRequest = errors.New("bad request")

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
