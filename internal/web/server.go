// Package web is the admin HTTP surface: job CRUD per kind, forced
// triggers, execution history, health, and the lifecycle WebSocket feed.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"cronfire/internal/auth"
	"cronfire/internal/hub"
	"cronfire/internal/manager"
	"cronfire/internal/models"
)

const PageSize = 15

type Server struct {
	managers   map[models.JobKind]*manager.JobManager
	hub        *hub.NotificationHub
	authorizer auth.Authorizer
	logger     *logrus.Logger
	addr       string

	httpSrv *http.Server
}

func NewServer(addr string, managers []*manager.JobManager, notificationHub *hub.NotificationHub, authorizer auth.Authorizer, logger *logrus.Logger) *Server {
	byKind := make(map[models.JobKind]*manager.JobManager, len(managers))
	for _, m := range managers {
		byKind[m.Kind()] = m
	}
	return &Server{
		managers:   byKind,
		hub:        notificationHub,
		authorizer: authorizer,
		logger:     logger,
		addr:       addr,
	}
}

// Router builds the route table. Exposed separately so tests can drive
// handlers through httptest without opening a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/client", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/jobs/{kind}", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{kind}", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{kind}/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{kind}/{id}", s.handleUpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{kind}/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{kind}/{id}/trigger", s.handleTriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{kind}/{id}/executions", s.handleListExecutions).Methods(http.MethodGet)

	return r
}

// Serve blocks until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.WithField("addr", s.addr).Info("admin server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// managerFor resolves the {kind} path variable; an unknown kind is a 404.
func (s *Server) managerFor(r *http.Request) (*manager.JobManager, bool) {
	kind, err := models.ParseJobKind(mux.Vars(r)["kind"])
	if err != nil {
		return nil, false
	}
	m, ok := s.managers[kind]
	return m, ok
}
