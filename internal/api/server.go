// Package api provides the HTTP server for the points service.
// Decimal amounts are encoded as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/app/limits"
	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// Server is the points HTTP API server.
type Server struct {
	ledger         *LedgerAPI
	specialists    *SpecialistAPI
	metricsEnabled bool
	health         func(ctx context.Context) error
	logger         *zap.Logger
}

// NewServer creates a new API server.
func NewServer(l *ledger.Service, g *limits.Gate) *Server {
	return &Server{
		ledger:      &LedgerAPI{Ledger: l},
		specialists: &SpecialistAPI{Gate: g},
		logger:      zap.NewNop(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthCheck sets the dependency probe run by /health.
func (s *Server) SetHealthCheck(fn func(ctx context.Context) error) { s.health = fn }

// SetLogger sets the access and error logger.
func (s *Server) SetLogger(l *zap.Logger) { s.logger = observability.OrNop(l).Named("api") }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.ledger.HandleOpenAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/balance", s.ledger.HandleBalance)
				r.Get("/transactions", s.ledger.HandleTransactions)
				r.Get("/reconcile", s.ledger.HandleReconcile)
				r.Post("/registration-bonus", s.ledger.HandleRegistrationBonus)
				r.Post("/credit", s.ledger.HandleCredit)
				r.Post("/debit", s.ledger.HandleDebit)
			})
		})

		r.Route("/specialists", func(r chi.Router) {
			r.Get("/", s.specialists.HandleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.specialists.HandleGet)
				r.Put("/", s.specialists.HandleUpsert)
				r.Get("/limits", s.specialists.HandleLimits)
				r.Get("/usage", s.specialists.HandleUsage)
				r.Get("/visibility", s.specialists.HandleVisibility)
				r.Post("/contact-views", s.specialists.HandleContactView)
				r.Post("/requests", s.specialists.HandleRequest)
			})
		})

		r.Post("/admin/bonuses/expire", s.ledger.HandleExpireBonuses)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeDomainError maps ledger and store errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error": map[string]interface{}{
				"message":   err.Error(),
				"type":      "insufficient_balance",
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrAccountExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
