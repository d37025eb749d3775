// api/server.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"geoval-system/internal/config"
	"geoval-system/internal/domain"
	"geoval-system/internal/messaging"
	"geoval-system/internal/repository"
	"geoval-system/pkg/validation"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Server struct {
	router    *mux.Router
	runs      repository.RunRepository
	results   repository.ResultRepository
	msgClient messaging.MessageClient
	config    *config.Config
	validator *validator.Validate
	logger    *zap.Logger
	server    *http.Server
}

func NewServer(runs repository.RunRepository, results repository.ResultRepository,
	msgClient messaging.MessageClient, cfg *config.Config, logger *zap.Logger) *Server {

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		runs:      runs,
		results:   results,
		msgClient: msgClient,
		config:    cfg,
		validator: validator.New(),
		logger:    logger,
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	// API v1
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	// Runs endpoints
	apiRouter.HandleFunc("/runs", s.createRun).Methods("POST")
	apiRouter.HandleFunc("/runs", s.listRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", s.getRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", s.cancelRun).Methods("DELETE")
	apiRouter.HandleFunc("/runs/{id}/results", s.listResults).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/results/{gpi}", s.getLocationResults).Methods("GET")

	// Health endpoint
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")

	// Default 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Health checks are too noisy for the request log.
		if r.URL.Path != "/health" {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
		}

		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			s.logger.Info("response",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("panic", err))
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Handlers
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.validator.Struct(req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := validateRunConfig(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := &domain.ValidationRun{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Status:        domain.RunStatusPending,
		Datasets:      req.Datasets,
		Masks:         req.Masks,
		TemporalRef:   req.TemporalRef,
		ScalingRef:    req.ScalingRef,
		ScalingMethod: req.ScalingMethod,
		ScalingMinObs: req.ScalingMinObs,
		WindowSeconds: req.WindowSeconds,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		Plan:          req.Plan,
		Jobs:          req.Jobs,
	}
	for i := range run.Jobs {
		run.Jobs[i].Status = domain.JobStatusPending
	}

	ctx := r.Context()
	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.logger.Error("failed to create run", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	// One stream message per spatial job; a failed publish leaves the job
	// pending for later resubmission, the run itself is already stored.
	published := 0
	for _, job := range run.Jobs {
		msg := messaging.JobMessage{
			RunID:     run.ID,
			SpatialID: job.SpatialID,
			Lon:       job.Lon,
			Lat:       job.Lat,
		}
		if err := s.msgClient.PublishJob(ctx, msg); err != nil {
			s.logger.Error("failed to publish job",
				zap.String("run_id", run.ID),
				zap.Int64("spatial_id", job.SpatialID),
				zap.Error(err))
			continue
		}
		published++
	}

	s.logger.Info("run created",
		zap.String("run_id", run.ID),
		zap.Int("jobs", len(run.Jobs)),
		zap.Int("published", published))

	s.respondWithJSON(w, http.StatusCreated, run)
}

// validateRunConfig checks the cross-field constraints struct tags cannot
// express: the temporal reference must name a dataset, plan keys must
// parse and be satisfiable, and metric set names must be registered.
func validateRunConfig(req *domain.CreateRunRequest) error {
	refFound := false
	for _, d := range req.Datasets {
		if d.Name == req.TemporalRef {
			refFound = true
			break
		}
	}
	if !refFound {
		return fmt.Errorf("temporal_ref %q does not name a dataset", req.TemporalRef)
	}

	for keyStr, metricName := range req.Plan {
		key, err := validation.ParsePlanKey(keyStr)
		if err != nil {
			return err
		}
		if key.N > len(req.Datasets) {
			return fmt.Errorf("plan entry %s needs %d datasets, only %d configured", key, key.N, len(req.Datasets))
		}
		if _, err := validation.LookupMetric(metricName); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.respondWithError(w, http.StatusNotFound, "Run not found")
		return
	}

	s.respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch runs")
		return
	}

	response := map[string]any{
		"runs":  runs,
		"count": len(runs),
		"limit": limit,
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	// Cancellation only flips the status; jobs already on the stream are
	// skipped by workers when they see it.
	updates := map[string]any{
		"status": domain.RunStatusCancelled,
	}

	if err := s.runs.UpdateRun(r.Context(), runID, updates); err != nil {
		s.logger.Error("failed to cancel run", zap.String("run_id", runID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Run cancelled"})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	limit := 500
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 && l <= 10000 {
			limit = l
		}
	}

	results, err := s.results.ListByRun(r.Context(), runID, limit)
	if err != nil {
		s.logger.Error("failed to list results", zap.String("run_id", runID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch results")
		return
	}

	response := map[string]any{
		"results": results,
		"count":   len(results),
		"limit":   limit,
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) getLocationResults(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	gpi, err := parseInt(vars["gpi"])
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid location id")
		return
	}

	results, err := s.results.ListBySpatialID(r.Context(), runID, int64(gpi))
	if err != nil {
		s.logger.Error("failed to fetch location results",
			zap.String("run_id", runID),
			zap.Int("gpi", gpi),
			zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch results")
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "healthy",
		"service":   "validation-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Endpoint not found")
}

// Helper functions
func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	s.respondWithJSON(w, status, response)
}

func parseInt(str string) (int, error) {
	var n int
	_, err := fmt.Sscanf(str, "%d", &n)
	return n, err
}

// Server lifecycle
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.ServerPort,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting REST API server", zap.String("addr", s.config.ServerPort))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("shutting down API server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
