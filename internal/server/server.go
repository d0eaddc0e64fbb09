package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/followup"
	"github.com/TobiSchelling/followup/internal/report"
)

// Engine is the part of the follow-up service exposed over HTTP.
type Engine interface {
	Region(slug string) (*database.Region, error)
	Metrics() followup.Metrics
	Stats() (*database.Stats, error)
	ProcessNewArticle(ctx context.Context, articleID int64) (*database.StoryThread, error)
	ProcessTriggers(ctx context.Context, regionID int64) *followup.TriggerResult
	UpdateThreadStatuses(ctx context.Context, regionID int64) *followup.StatusResult
	ProcessHighEngagementArticles(ctx context.Context, regionID int64) *followup.EngagementResult
	GenerateFollowUpQueue(ctx context.Context, regionID int64, limit int) ([]followup.QueueEntry, error)
}

// Server is the HTTP server for the follow-up engine.
type Server struct {
	engine Engine
	router *mux.Router
	now    func() time.Time
}

// New creates a new Server.
func New(engine Engine) *Server {
	s := &Server{engine: engine, router: mux.NewRouter(), now: time.Now}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/articles/{id:[0-9]+}/process", s.handleProcessArticle).Methods(http.MethodPost)

	regions := s.router.PathPrefix("/regions/{slug}").Subrouter()
	regions.HandleFunc("/triggers", s.regionHandler(func(ctx context.Context, id int64) any {
		return s.engine.ProcessTriggers(ctx, id)
	})).Methods(http.MethodPost)
	regions.HandleFunc("/sweep", s.regionHandler(func(ctx context.Context, id int64) any {
		return s.engine.UpdateThreadStatuses(ctx, id)
	})).Methods(http.MethodPost)
	regions.HandleFunc("/engagement", s.regionHandler(func(ctx context.Context, id int64) any {
		return s.engine.ProcessHighEngagementArticles(ctx, id)
	})).Methods(http.MethodPost)
	regions.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProcessArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.engine.ProcessNewArticle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"article_id": id, "threaded": t != nil}
	if t != nil {
		resp["thread_id"] = t.ID
		resp["thread_title"] = t.Title
	}
	writeJSON(w, http.StatusOK, resp)
}

// regionHandler resolves the {slug} path variable and writes run's result.
func (s *Server) regionHandler(run func(ctx context.Context, regionID int64) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region, ok := s.region(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, run(r.Context(), region.ID))
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries, err := s.engine.GenerateFollowUpQueue(r.Context(), region.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	q := report.Queue{Region: region.Slug, GeneratedAt: s.now(), Entries: entries}

	switch r.URL.Query().Get("format") {
	case "", "json":
		if q.Entries == nil {
			q.Entries = []followup.QueueEntry{}
		}
		writeJSON(w, http.StatusOK, q.Entries)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.HTML(w, q); err != nil {
			logrus.Errorf("Rendering queue page: %v", err)
		}
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, report.Markdown(q))
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, html or md"))
	}
}

func (s *Server) region(w http.ResponseWriter, r *http.Request) (*database.Region, bool) {
	slug := mux.Vars(r)["slug"]
	region, err := s.engine.Region(slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if region == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown region %q", slug))
		return nil, false
	}
	return region, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logrus.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve listens on the port until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, engine Engine, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      New(engine).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
