// Package api exposes the progress of a running batch over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

// ProgressSource is satisfied by *batch.Runner.
type ProgressSource interface {
	Progress() batch.Progress
	Results() []batch.Result
}

type Server struct {
	router *chi.Mux
	port   int
	src    ProgressSource
	logger *slog.Logger
	srv    *http.Server
}

func NewServer(port int, src ProgressSource, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		src:    src,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/progress", s.progress)
		r.Get("/results", s.results)
	})

	return s
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type progressResponse struct {
	batch.Progress
	Percent float64 `json:"percent"`
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p := s.src.Progress()
	resp := progressResponse{Progress: p}
	if p.Total > 0 {
		resp.Percent = float64(p.Processed) * 100 / float64(p.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}

// results returns the rows recorded so far, ordered by question index.
// ?status= filters by outcome.
func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	rows := batch.SortByIndex(s.src.Results())
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rows[:0]
		for _, res := range rows {
			if string(res.Status) == status {
				filtered = append(filtered, res)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []batch.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rows),
		"results": rows,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
