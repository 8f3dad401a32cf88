package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/config"
	"github.com/p-dazzeo/realm/internal/upload"
)

const multipartMemory = 32 << 20

// Handler wires HTTP routes to the upload service.
type Handler struct {
	cfg     *config.Config
	svc     *upload.Service
	logger  *slog.Logger
	metrics http.Handler
}

// NewHandler creates a Handler instance.
func NewHandler(cfg *config.Config, svc *upload.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, svc: svc, logger: logger, metrics: promhttp.Handler()}
}

// Router returns a configured chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Get("/health/parser", h.handleParserHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	r.Route("/projects", func(r chi.Router) {
		r.Post("/", h.withAuth(h.handleIngest))
		r.Post("/github", h.withAuth(h.handleIngestGitHub))
		r.Get("/", h.withAuth(h.handleListProjects))
		r.Get("/{projectID}", h.withAuth(h.handleGetProject))
		r.Delete("/{projectID}", h.withAuth(h.handleDeleteProject))
		r.Get("/{projectID}/additional-files", h.withAuth(h.handleListAdditionalFiles))
		r.Post("/{projectID}/additional-files", h.withAuth(h.handleAddAdditionalFile))
	})
	r.Route("/additional-files", func(r chi.Router) {
		r.Get("/{fileID}", h.withAuth(h.handleGetAdditionalFile))
		r.Get("/{fileID}/content", h.withAuth(h.handleDownloadAdditionalFile))
		r.Patch("/{fileID}", h.withAuth(h.handleUpdateAdditionalFile))
		r.Delete("/{fileID}", h.withAuth(h.handleDeleteAdditionalFile))
	})
	r.Get("/sessions/{sessionID}", h.withAuth(h.handleGetSession))

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"parser_enabled":   h.cfg.ParserEnabled,
		"parser_url":       h.cfg.ParserURL,
		"max_file_size":    h.cfg.MaxFileSize,
		"max_project_size": h.cfg.MaxProjectSize,
	})
}

func (h *Handler) handleParserHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.TestParserConnectivity(r.Context()))
}

// withAuth enforces X-API-Key when an API key is configured.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.APIKey != "" {
			apiKey := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(h.cfg.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}
		next(w, r)
	}
}

// writeAppError maps an error kind onto a status and a caller-safe message.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api.request_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, apperr.PublicMessage(err))
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExtraction:
		return http.StatusUnprocessableEntity
	case apperr.KindParser, apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
