package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ocr-job-pipeline/internal/logging"
	"ocr-job-pipeline/internal/ocr"
	"ocr-job-pipeline/internal/signature"
	"ocr-job-pipeline/internal/telemetry"
)

const defaultMaxUpload = 10 << 20

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	Service       *ocr.Service
	Health        Pinger
	Gate          *signature.Gate
	WebhookSecret string
	// DevUploads enables POST /ocr-jobs/upload outside production.
	DevUploads   bool
	MaxUploadLen int64
	Logger       *zap.Logger
}

// Server wires HTTP handlers for the OCR job API and the chat webhook.
type Server struct {
	svc           *ocr.Service
	health        Pinger
	gate          *signature.Gate
	validate      *validator.Validate
	webhookSecret string
	devUploads    bool
	maxUpload     int64
	log           *zap.Logger
}

// New constructs the API server.
func New(o Options) *Server {
	s := &Server{
		svc:           o.Service,
		health:        o.Health,
		gate:          o.Gate,
		validate:      newValidator(),
		webhookSecret: o.WebhookSecret,
		devUploads:    o.DevUploads,
		maxUpload:     o.MaxUploadLen,
		log:           o.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/telegram/webhook", s.handleTelegramWebhook)
	r.Post("/ocr-jobs/upload", s.handleUpload)

	r.Group(func(r chi.Router) {
		r.Use(s.gate.Middleware)
		r.Post("/ocr-jobs/start", s.handleStart)
		r.Post("/ocr-jobs/signed-url", s.handleSignedURL)
		r.Get("/ocr-jobs/{jobId}", s.handleGetJob)
		r.Post("/ocr-jobs/{jobId}/result", s.handleResult)
		r.Post("/ocr-jobs/{jobId}/error", s.handleError)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
