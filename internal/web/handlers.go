package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"cronfire/internal/manager"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	var input manager.JobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := m.Add(r.Context(), input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	result, err := m.List(r.Context(), enabledFilter(r), getPageNumber(r), PageSize)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	job, err := m.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	var input manager.JobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := m.Update(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	if err := m.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	if err := m.Trigger(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	m, ok := s.managerFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job kind")
		return
	}

	result, err := m.Executions(r.Context(), mux.Vars(r)["id"], getPageNumber(r), PageSize)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
