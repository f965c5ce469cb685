// Package api exposes the sampling engine over HTTP/JSON. All business
// logic lives in the service layer; this package owns request decoding,
// size limits, CORS, and the error envelope.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metrolab/wafersample/pkg/config"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/service"

	"github.com/google/uuid"
)

// Server is the HTTP facade.
type Server struct {
	svc     *service.Service
	logger  *logging.Logger
	cfg     config.ServerConfig
	limits  service.Limits
	metrics *metrics
	router  *mux.Router
}

// New builds the server and its route table.
func New(svc *service.Service, logger *logging.Logger, cfg config.ServerConfig, limits service.Limits) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		svc:     svc,
		logger:  logger,
		cfg:     cfg,
		limits:  limits,
		metrics: newMetrics(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then drains with
// the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/schematics/upload", s.handleUploadSchematic).Methods(http.MethodPost)
	r.HandleFunc("/schematics", s.handleListSchematics).Methods(http.MethodGet)
	r.HandleFunc("/schematics/{id}", s.handleGetSchematic).Methods(http.MethodGet)
	r.HandleFunc("/schematics/{id}", s.handleDeleteSchematic).Methods(http.MethodDelete)
	r.HandleFunc("/schematics/{id}/die-boundaries", s.handleDieBoundaries).Methods(http.MethodGet)
	r.HandleFunc("/schematics/{id}/export/{format}", s.handleExportSchematic).Methods(http.MethodGet)
	r.HandleFunc("/schematics/{id}/validate", s.handleValidateSchematic).Methods(http.MethodPost)
	r.HandleFunc("/schematics/{id}/validations", s.handleListValidations).Methods(http.MethodGet)

	r.HandleFunc("/strategies", s.handleCreateStrategy).Methods(http.MethodPost)
	r.HandleFunc("/strategies", s.handleListStrategies).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}", s.handleGetStrategy).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}", s.handleUpdateStrategy).Methods(http.MethodPut)
	r.HandleFunc("/strategies/{id}", s.handleDeleteStrategy).Methods(http.MethodDelete)
	r.HandleFunc("/strategies/{id}/versions", s.handleListStrategyVersions).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}/simulate", s.handleSimulate).Methods(http.MethodPost)
	r.HandleFunc("/strategies/{id}/promote", s.handlePromote).Methods(http.MethodPost)
	r.HandleFunc("/strategies/{id}/retract", s.handleRetract).Methods(http.MethodPost)
	r.HandleFunc("/strategies/{id}/clone", s.handleClone).Methods(http.MethodPost)
	r.HandleFunc("/strategies/{id}/export/{vendor}", s.handleExportStrategy).Methods(http.MethodPost)

	r.HandleFunc("/meta/formats", s.handleFormats).Methods(http.MethodGet)
	r.HandleFunc("/meta/rule-types", s.handleRuleTypes).Methods(http.MethodGet)
	r.HandleFunc("/meta/vendors", s.handleVendors).Methods(http.MethodGet)

	return r
}

type ctxKey int

const requestIDKey ctxKey = 0

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.observe(r.Method, route, rec.status, elapsed)
		s.logger.Debug("request served",
			"method", r.Method, "path", r.URL.Path,
			"status", strconv.Itoa(rec.status), "elapsed", elapsed.String(),
			"request_id", requestIDFrom(r.Context()))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": s.svc.SupportedFormats()})
}

func (s *Server) handleRuleTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ruleTypes": s.svc.RuleTypes()})
}

func (s *Server) handleVendors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"vendors": s.svc.Vendors()})
}
