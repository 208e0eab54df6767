package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
	"github.com/tjsasakifln/licitasearch/internal/search"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSearch(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer holds the handlers for the search API.
type apiServer struct {
	env *searchEnv
}

func (s *apiServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/sources", s.handleSources)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache/{key}", s.handleCacheInvalidate)
	})
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchResponse struct {
	*model.SearchResult
	Stale bool `json:"stale"`
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "at least one keyword is required")
		return
	}
	if req.DateTo.IsZero() {
		req.DateTo = time.Now()
	}
	if req.DateFrom.IsZero() {
		req.DateFrom = req.DateTo.AddDate(0, 0, -30)
	}

	callerKey := r.Header.Get("X-API-Key")
	if callerKey == "" {
		callerKey = "anonymous"
	}

	result, stale, err := s.env.Service.Search(r.Context(), callerKey, req)
	switch {
	case errors.Is(err, search.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "search quota exceeded")
		return
	case errors.Is(err, search.ErrAllSourcesUnavailable):
		writeError(w, http.StatusServiceUnavailable, "all sources unavailable")
		return
	case err != nil:
		zap.L().Error("search request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{SearchResult: result, Stale: stale})
}

type sourceStatus struct {
	Code        string  `json:"code"`
	DisplayName string  `json:"display_name"`
	Enabled     bool    `json:"enabled"`
	Priority    int     `json:"priority"`
	RateLimit   float64 `json:"rate_limit_rps"`
	Circuit     string  `json:"circuit"`
}

func (s *apiServer) handleSources(w http.ResponseWriter, r *http.Request) {
	states := s.env.Breakers.States()

	entries := s.env.Registry.All()
	out := make([]sourceStatus, 0, len(entries))
	for _, e := range entries {
		circuit := resilience.CircuitClosed.String()
		if st, ok := states[e.Config.Code]; ok {
			circuit = st.String()
		}
		out = append(out, sourceStatus{
			Code:        e.Config.Code,
			DisplayName: e.Config.DisplayName,
			Enabled:     e.Config.Enabled,
			Priority:    e.Config.Priority,
			RateLimit:   e.Config.RateLimitRPS,
			Circuit:     circuit,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *apiServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.env.Service.CacheStats())
}

func (s *apiServer) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.env.Service.Invalidate(r.Context(), key); err != nil {
		zap.L().Error("cache invalidation failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "key": key})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
