package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loreweave/loreweave-engine/internal/orchestrator"
)

func (s *Server) handleEnqueueModules(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentID")
	var req struct {
		AccountID string                       `json:"account_id"`
		Modules   []orchestrator.ModuleRequest `json:"modules"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("account_id required"))
		return
	}
	if _, err := s.ledger.GetAccount(r.Context(), accountID); err != nil {
		s.respondDomainError(w, err)
		return
	}

	jobs, rejected, err := s.orch.EnqueueModules(parentID, accountID, req.Modules)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	rejectedByKey := make(map[string]string, len(rejected))
	for key, cause := range rejected {
		rejectedByKey[key] = cause.Error()
	}
	s.debugf("enqueued %d module(s) for parent %s, rejected %d", len(jobs), parentID, len(rejected))
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"jobs":     jobs,
		"rejected": rejectedByKey,
	})
}

func (s *Server) handleRetryModule(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentID")
	moduleKey := chi.URLParam(r, "moduleKey")
	job, err := s.orch.RetryModule(parentID, moduleKey)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleParentStatus(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentID")
	snap := s.orch.GetParentStatus(parentID)
	if snap.Jobs == nil {
		snap.Jobs = []orchestrator.Job{}
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleParentHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, http.StatusNotFound, errors.New("job history disabled"))
		return
	}
	parentID := chi.URLParam(r, "parentID")
	jobs, err := s.archive.ListParent(r.Context(), parentID, queryInt(r, "limit", 50))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []orchestrator.Job{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transitions": jobs})
}

func (s *Server) handleCancelParent(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentID")
	if err := s.orch.CancelParent(parentID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"parent_id": parentID, "cancelled": true})
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"models": s.catalog.List()})
}
