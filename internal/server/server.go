// Package server exposes a read-only HTTP status API over the store. It
// reports crawl and pipeline progress; all mutations go through the CLI and
// the queue workers.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

const defaultPageSize = 50

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  store.Store
	log    *zap.Logger
}

// New constructs a Server with middleware and routes.
func New(st store.Store) *Server {
	s := &Server{
		store: st,
		log:   zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/aggregates", s.listAggregates)
		r.Get("/aggregates/{id}", s.getAggregate)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Get("/leads", s.listLeads)
		r.Get("/leads/{id}", s.getLead)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAggregates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	aggs, err := s.store.ListAggregates(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"aggregates": aggs})
}

func (s *Server) getAggregate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agg, err := s.store.GetAggregate(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), store.TaskFilter{AggregateID: id})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"aggregate": agg, "tasks": tasks})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := store.TaskFilter{
		AggregateID: r.URL.Query().Get("aggregate_id"),
		Status:      model.TaskStatus(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      offset,
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// taskDetail augments a task with its grid progress.
type taskDetail struct {
	Task        *model.Task `json:"task"`
	TotalPoints int         `json:"total_points"`
	DonePoints  int         `json:"done_points"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	total, done, err := s.store.CountPoints(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, taskDetail{Task: task, TotalPoints: total, DonePoints: done})
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	q := r.URL.Query()
	filter := store.LeadFilter{
		TaskID:        q.Get("task_id"),
		RatingStatus:  model.RatingStatus(q.Get("rating_status")),
		EnrichStatus:  model.EnrichStatus(q.Get("enrich_status")),
		CRMSyncStatus: model.CRMSyncStatus(q.Get("crm_sync_status")),
		Limit:         limit,
		Offset:        offset,
	}
	leads, err := s.store.ListLeads(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lead, err := s.store.GetLead(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	contacts, err := s.store.ListContacts(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lead": lead, "contacts": contacts})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
