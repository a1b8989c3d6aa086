package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"toolplane/internal/config"
	"toolplane/internal/events"
	"toolplane/internal/lifecycle"
	"toolplane/internal/router"
	"toolplane/pkg/logging"
)

const subsystem = "API"

// Server is the HTTP control API. All mutating service endpoints are
// idempotent and return the resulting service view rather than a bare
// acknowledgement.
type Server struct {
	machine  *lifecycle.Machine
	router   *router.Router
	recorder *events.Recorder
	http     *http.Server
}

// NewServer builds the control API listening on the configured address.
func NewServer(cfg config.APIConfig, machine *lifecycle.Machine, rt *router.Router, recorder *events.Recorder) *Server {
	s := &Server{
		machine:  machine,
		router:   rt,
		recorder: recorder,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", s.handleListServices)
		r.Get("/services/{name}", s.handleGetService)
		r.Post("/services/{name}/start", s.serviceOp(s.machine.Start))
		r.Post("/services/{name}/stop", s.serviceOp(s.machine.Stop))
		r.Post("/services/{name}/sleep", s.serviceOp(s.machine.Sleep))
		r.Post("/services/{name}/wake", s.serviceOp(s.machine.Wake))
		r.Post("/services/{name}/reset", s.serviceOp(s.machine.Reset))
		r.Post("/execute", s.handleExecute)
		r.Post("/search", s.handleSearch)
		r.Get("/events", s.handleEvents)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Info(subsystem, "Control API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports ok unless any service sits in the error state, in
// which case the control plane is degraded until the operator resets it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	for _, view := range s.machine.List() {
		if view.Status == lifecycle.StatusError {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.machine.List())
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	view, err := s.machine.Status(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// serviceOp adapts one lifecycle operation into a handler. ErrTooSoon is a
// deliberate no-op, reported as success with the unchanged view.
func (s *Server) serviceOp(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		err := op(r.Context(), name)
		if err != nil && !errors.Is(err, lifecycle.ErrTooSoon) {
			writeError(w, err)
			return
		}

		view, verr := s.machine.Status(name)
		if verr != nil {
			writeError(w, verr)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req router.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "description is required"})
		return
	}

	result, err := s.router.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Description string `json:"description"`
	IncludeCold bool   `json:"includeCold,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "description is required"})
		return
	}

	scores, err := s.router.Search(r.Context(), req.Description, req.IncludeCold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	requestID := r.URL.Query().Get("request")
	writeJSON(w, http.StatusOK, s.recorder.Recent(service, requestID))
}
