package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
)

func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code"`
		Amount    string `json:"amount"`
		ExpiresIn string `json:"expires_in"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid amount"))
		return
	}
	ttl := 30 * 24 * time.Hour
	if strings.TrimSpace(req.ExpiresIn) != "" {
		ttl, err = time.ParseDuration(req.ExpiresIn)
		if err != nil || ttl <= 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid expires_in"))
			return
		}
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = strings.ToUpper(uuid.NewString()[:8])
	}
	record := credit.Code{
		Code:      code,
		Amount:    amount,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := s.ledger.CreateCode(r.Context(), record); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.logger.Printf("redeem code %s created amount=%s", code, amount)
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"code":       code,
		"amount":     amount,
		"expires_at": record.ExpiresAt,
	})
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Amount    string `json:"amount"`
		Detail    string `json:"detail"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("account_id required"))
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid amount"))
		return
	}
	if _, err := s.ledger.GetAccount(r.Context(), req.AccountID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	entry, err := s.ledger.Credit(r.Context(), req.AccountID, amount, credit.ReasonAdminGrant, req.Detail)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordLedgerEntry(string(credit.ReasonAdminGrant))
	}
	balance, err := s.ledger.GetBalance(r.Context(), req.AccountID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"entry":   entry,
		"balance": balance,
	})
}

func (s *Server) handleUpsertModel(w http.ResponseWriter, r *http.Request) {
	var model modelcatalog.Model
	if !s.decode(w, r, &model) {
		return
	}
	if err := s.catalog.Upsert(model); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"models": s.catalog.List()})
}

func (s *Server) handleSetModelEnabled(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.catalog.SetEnabled(modelID, req.Enabled); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"model_id": modelID, "enabled": req.Enabled})
}
