// Package api exposes the parser's control and query surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auction-parser/extractor"
	"auction-parser/internal/types"
	"auction-parser/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// APIResponse is the envelope of every response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StartRequest is the body of POST /parser/start.
type StartRequest struct {
	URL string `json:"url"`
}

// MultiStartRequest is the body of POST /parser/multi-start. A missing
// end_page starts an open-ended run.
type MultiStartRequest struct {
	StartPage int  `json:"start_page"`
	EndPage   *int `json:"end_page"`
}

// StartResponse identifies a started run.
type StartResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	StartPage int       `json:"start_page,omitempty"`
	EndPage   *int      `json:"end_page,omitempty"`
}

const defaultRunsLimit = 10

// Server holds the API handlers and their dependencies.
type Server struct {
	manager *extractor.Manager
	store   store.Store
	logger  types.Logger
	router  *mux.Router
}

// NewServer creates a server and registers its routes.
func NewServer(manager *extractor.Manager, st store.Store, logger types.Logger) *Server {
	s := &Server{
		manager: manager,
		store:   st,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	p := r.PathPrefix("/parser").Subrouter()
	p.HandleFunc("/start", s.handleStart).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/multi-start", s.handleMultiStart).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	p.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	p.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	p.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/cars", s.handleCars).Methods(http.MethodGet)
	r.HandleFunc("/cars/brands", s.handleBrands).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until ctx is cancelled, then stops active runs and
// shuts the listener down.
func (s *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting API server on port %s", port)
	s.logger.Info("Available endpoints:")
	s.logger.Info("  POST /parser/start        - Parse a single listing page")
	s.logger.Info("  POST /parser/multi-start  - Parse a range of listing pages")
	s.logger.Info("  POST /parser/stop         - Stop every active run")
	s.logger.Info("  GET  /parser/status       - Current run status")
	s.logger.Info("  GET  /parser/runs         - Recent runs")
	s.logger.Info("  POST /parser/clear        - Delete all cars, images and runs")
	s.logger.Info("  GET  /cars                - Browse parsed cars")
	s.logger.Info("  GET  /health              - Health check")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnf("Runs still active at shutdown: %v", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.sendError(w, "url is required", http.StatusBadRequest)
		return
	}

	task, err := s.manager.StartSingle(r.Context(), req.URL)
	if err != nil {
		s.logger.Errorf("Failed to start run for %s: %v", req.URL, err)
		s.sendError(w, "Failed to start run", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusAccepted, StartResponse{RunID: task.RunID()})
}

func (s *Server) handleMultiStart(w http.ResponseWriter, r *http.Request) {
	var req MultiStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pages := extractor.NormalizePageRange(req.StartPage, req.EndPage)
	task, err := s.manager.StartMulti(r.Context(), pages)
	if err != nil {
		s.logger.Errorf("Failed to start run for %s: %v", pages.Description(), err)
		s.sendError(w, "Failed to start run", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusAccepted, StartResponse{
		RunID:     task.RunID(),
		StartPage: pages.Start,
		EndPage:   pages.End,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	n := s.manager.StopAll()
	s.send(w, http.StatusOK, map[string]int{"stopped": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.manager.Status(r.Context())
	if err != nil {
		s.logger.Errorf("Failed to read status: %v", err)
		s.sendError(w, "Failed to read status", http.StatusInternalServerError)
		return
	}
	if run == nil {
		s.send(w, http.StatusOK, map[string]string{"status": "no_data"})
		return
	}
	s.send(w, http.StatusOK, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRunsLimit)
	if limit < 1 {
		limit = defaultRunsLimit
	}
	runs, err := s.store.ListRecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("Failed to list runs: %v", err)
		s.sendError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.sendError(w, "Invalid run id", http.StatusBadRequest)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Errorf("Failed to read run %s: %v", id, err)
		s.sendError(w, "Failed to read run", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusOK, run)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Clear(r.Context())
	if err != nil {
		s.logger.Errorf("Failed to clear data: %v", err)
		s.sendError(w, "Failed to clear data", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusOK, res)
}

func (s *Server) handleCars(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCarFilter(r)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := s.store.ListCars(r.Context(), filter)
	if err != nil {
		s.logger.Errorf("Failed to list cars: %v", err)
		s.sendError(w, "Failed to list cars", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusOK, page)
}

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := s.store.ListBrands(r.Context())
	if err != nil {
		s.logger.Errorf("Failed to list brands: %v", err)
		s.sendError(w, "Failed to list brands", http.StatusInternalServerError)
		return
	}
	s.send(w, http.StatusOK, brands)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.send(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"active_runs": s.manager.Active(),
	})
}

// parseCarFilter reads the /cars query. Malformed bounds are rejected;
// malformed paging falls back to the defaults.
func parseCarFilter(r *http.Request) (store.CarFilter, error) {
	q := r.URL.Query()
	f := store.CarFilter{
		Search:  q.Get("search"),
		Brand:   q.Get("brand"),
		Sort:    q.Get("sort"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", store.DefaultPerPage),
	}
	bounds := []struct {
		name string
		dst  **int
	}{
		{"year_from", &f.YearFrom},
		{"year_to", &f.YearTo},
		{"price_from", &f.PriceFrom},
		{"price_to", &f.PriceTo},
		{"mileage_from", &f.MileageFrom},
		{"mileage_to", &f.MileageTo},
	}
	for _, b := range bounds {
		raw := strings.TrimSpace(q.Get(b.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %q", b.name, raw)
		}
		*b.dst = &v
	}
	return f, nil
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func (s *Server) send(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message}); err != nil {
		s.logger.Errorf("Failed to encode error response: %v", err)
	}
}
