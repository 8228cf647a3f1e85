// Package server exposes the orchestrator over HTTP. Read endpoints answer
// directly from the catalog; lifecycle endpoints enqueue a task and answer
// 202 Accepted with the task, which clients poll under /api/tasks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"permafrost/internal/pf"
	"permafrost/internal/task"
)

// Recorder runs a mutating operation and records it in the operation
// history.
type Recorder interface {
	Record(operation string, parameters map[string]any, fn func() error) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(operation string, parameters map[string]any, fn func() error) error

func (f RecorderFunc) Record(operation string, parameters map[string]any, fn func() error) error {
	return f(operation, parameters, fn)
}

// Defaults fill in request fields the client leaves empty.
type Defaults struct {
	Repository  string
	Encryption  string
	Compression string
}

type Server struct {
	service  *pf.Service
	queue    *task.Queue
	recorder Recorder
	defaults Defaults
	logger   pf.Logger
}

func NewServer(service *pf.Service, queue *task.Queue, recorder Recorder, defaults Defaults, logger pf.Logger) *Server {
	return &Server{
		service:  service,
		queue:    queue,
		recorder: recorder,
		defaults: defaults,
		logger:   logger,
	}
}

// Router returns the HTTP handler serving the API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/repository/init", s.handleInit).Methods(http.MethodPost)
	api.HandleFunc("/root-directories", s.handleRootDirectories).Methods(http.MethodGet)
	api.HandleFunc("/directories", s.handleDirectories).Methods(http.MethodGet)
	api.HandleFunc("/drift", s.handleDrift).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	api.HandleFunc("/archives", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/archives", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/archives", s.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/archives", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/archives/{id}/extract", s.handleExtract).Methods(http.MethodPost)
	api.HandleFunc("/archives/{id}/check", s.handleCheck).Methods(http.MethodPost)

	api.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleTask).Methods(http.MethodGet)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pf.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, pf.ErrDirectoryNotFound),
		errors.Is(err, pf.ErrArchiveMissing),
		errors.Is(err, pf.ErrRootNotWatched):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorJSON{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", pf.ErrInvalidTarget, err)
	}
	return nil
}

// submit enqueues fn and answers 202 with the task. The task is recorded
// in the operation history unless params is nil, which marks it read-only.
func (s *Server) submit(w http.ResponseWriter, kind, target string, params map[string]any, fn func() error) {
	t, err := s.queue.Submit(kind, target, func(context.Context) error {
		if params == nil {
			return fn()
		}
		return s.recorder.Record(kind, params, fn)
	})
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorJSON{Error: err.Error()})
		return
	}
	w.Header().Set("Location", "/api/tasks/"+t.ID)
	s.writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	location := orDefault(req.Repository, s.defaults.Repository)
	encryption := orDefault(req.Encryption, s.defaults.Encryption)

	params := map[string]any{"repository": location, "encryption": encryption}
	s.submit(w, "init", location, params, func() error {
		return s.service.Init(location, encryption)
	})
}

func (s *Server) handleRootDirectories(w http.ResponseWriter, r *http.Request) {
	roots, err := s.service.RootDirectories()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roots)
}

func (s *Server) handleDirectories(w http.ResponseWriter, r *http.Request) {
	directories, err := s.service.Directories()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, directories)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.service.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusesJSON(statuses))
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	drift, err := s.service.Drift()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusesJSON(drift))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	ops, err := s.service.GetHistory(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	location := orDefault(r.URL.Query().Get("repo"), s.defaults.Repository)
	listing, err := s.service.List(location)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toListingJSON(listing))
}

// lifecycleRequest decodes and completes a lifecycle request body.
func (s *Server) lifecycleRequest(r *http.Request) (archiveRequest, error) {
	var req archiveRequest
	if err := decodeBody(r, &req); err != nil {
		return req, err
	}
	req.Repository = orDefault(req.Repository, s.defaults.Repository)
	req.Compression = orDefault(req.Compression, s.defaults.Compression)
	return req, nil
}

func (req archiveRequest) params() map[string]any {
	return map[string]any{
		"target":     req.target().String(),
		"repository": req.Repository,
		"dry_run":    req.DryRun,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := s.lifecycleRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	target := req.target()
	if target.DirectoryID == "" && target.RootDirectoryID == "" {
		s.writeError(w, fmt.Errorf("%w: create needs directory_id or root_directory_id", pf.ErrInvalidTarget))
		return
	}

	s.submit(w, "create", target.String(), req.params(), func() error {
		_, err := s.service.Create(target, req.Repository, req.Compression, req.DryRun)
		return err
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, err := s.lifecycleRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	target := req.target()
	if target == (pf.Target{}) {
		s.writeError(w, fmt.Errorf("%w: update needs directory_id, archive_id or root_directory_id", pf.ErrInvalidTarget))
		return
	}

	s.submit(w, "update", target.String(), req.params(), func() error {
		_, err := s.service.Update(target, req.Repository, req.Compression, req.DryRun)
		return err
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := s.lifecycleRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.ArchiveID == "" {
		s.writeError(w, fmt.Errorf("%w: delete needs archive_id", pf.ErrInvalidTarget))
		return
	}

	s.submit(w, "delete", req.target().String(), req.params(), func() error {
		return s.service.Delete(req.ArchiveID, req.Repository, req.DryRun)
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, err := s.lifecycleRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.ArchiveID = mux.Vars(r)["id"]

	s.submit(w, "extract", req.target().String(), req.params(), func() error {
		return s.service.Extract(req.ArchiveID, req.Repository, req.DryRun)
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	req, err := s.lifecycleRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.ArchiveID = mux.Vars(r)["id"]

	var params map[string]any
	if req.Repair {
		params = req.params()
		params["repair"] = true
	}
	s.submit(w, "check", req.target().String(), params, func() error {
		return s.service.Check(req.ArchiveID, req.Repository, req.Repair)
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.queue.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorJSON{Error: "task not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
