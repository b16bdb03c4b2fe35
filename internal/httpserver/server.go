package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loreweave/loreweave-engine/internal/auth"
	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/loreweave/loreweave-engine/internal/metrics"
	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
	"github.com/loreweave/loreweave-engine/internal/orchestrator"
	"github.com/loreweave/loreweave-engine/internal/version"
)

// ArchiveReader exposes the job transition history for polling clients.
// Nil when archiving is disabled.
type ArchiveReader interface {
	ListParent(ctx context.Context, parentID string, limit int) ([]orchestrator.Job, error)
}

// Server exposes the REST surface of the engine.
type Server struct {
	ledger    *credit.Ledger
	orch      *orchestrator.Orchestrator
	catalog   *modelcatalog.Catalog
	archive   ArchiveReader
	collector *metrics.Collector

	auth         *auth.Manager
	authDisabled bool
	adminEmail   string

	logger   *log.Logger
	logLevel string
}

// Options carries the optional server dependencies.
type Options struct {
	Archive      ArchiveReader
	Metrics      *metrics.Collector
	Auth         *auth.Manager
	AuthDisabled bool
	AdminEmail   string
	Logger       *log.Logger
	LogLevel     string
}

// New constructs a Server with the required dependencies.
func New(ledger *credit.Ledger, orch *orchestrator.Orchestrator, catalog *modelcatalog.Catalog, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[engined/http] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		ledger:       ledger,
		orch:         orch,
		catalog:      catalog,
		archive:      opts.Archive,
		collector:    opts.Metrics,
		auth:         opts.Auth,
		authDisabled: opts.AuthDisabled,
		adminEmail:   strings.TrimSpace(strings.ToLower(opts.AdminEmail)),
		logger:       logger,
		logLevel:     strings.ToLower(opts.LogLevel),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/login", s.handleAuthLogin)

		api.Group(func(private chi.Router) {
			if s.auth != nil && !s.authDisabled {
				private.Use(s.sessionMiddleware)
			}

			private.Route("/accounts/{accountID}", func(acct chi.Router) {
				acct.Get("/balance", s.handleBalance)
				acct.Get("/ledger", s.handleLedger)
				acct.Post("/check-in", s.handleCheckIn)
				acct.Post("/redeem", s.handleRedeem)
				acct.Post("/debit", s.handleDebit)
			})

			private.Route("/generation/{parentID}", func(gen chi.Router) {
				gen.Post("/modules", s.handleEnqueueModules)
				gen.Post("/modules/{moduleKey}/retry", s.handleRetryModule)
				gen.Get("/status", s.handleParentStatus)
				gen.Get("/history", s.handleParentHistory)
				gen.Delete("/", s.handleCancelParent)
			})

			private.Get("/models", s.handleListModels)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.requireAdmin)
			admin.Post("/admin/codes", s.handleCreateCode)
			admin.Post("/admin/grants", s.handleAdminGrant)
			admin.Put("/admin/models", s.handleUpsertModel)
			admin.Post("/admin/models/{modelID}/enabled", s.handleSetModelEnabled)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Info()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.collector == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

type sessionContextKey struct{}

func sessionFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(sessionContextKey{}).(*auth.Identity)
	return id
}

// sessionMiddleware validates bearer tokens on the private API group.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		id, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, &id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards the admin surface. With auth disabled every caller
// is treated as the root admin, which keeps local runs frictionless.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || s.authDisabled {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		id, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		if !id.Admin {
			s.respondError(w, http.StatusForbidden, errors.New("admin token required"))
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, &id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondDomainError maps domain sentinels onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrAccountNotFound),
		errors.Is(err, orchestrator.ErrUnknownParent),
		errors.Is(err, orchestrator.ErrUnknownModule),
		errors.Is(err, modelcatalog.ErrModelUnavailable):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, credit.ErrAlreadyCheckedInToday),
		errors.Is(err, credit.ErrInvalidOrUsedCode),
		errors.Is(err, credit.ErrCodeExists),
		errors.Is(err, orchestrator.ErrRetryNotFailed):
		s.respondError(w, http.StatusConflict, err)
	case errors.Is(err, credit.ErrNonPositiveAmount),
		errors.Is(err, credit.ErrInvalidReason):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, orchestrator.ErrClosed):
		s.respondError(w, http.StatusServiceUnavailable, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func (s *Server) isDebug() bool {
	return s.logLevel == "debug" || s.logLevel == "trace"
}

func (s *Server) debugf(format string, args ...any) {
	if s.isDebug() {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}
