package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/loreweave/loreweave-engine/internal/credit"
)

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("email required"))
		return
	}
	acct, err := s.ledger.EnsureAccount(r.Context(), email)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	var token string
	if s.auth != nil {
		token, err = s.auth.IssueToken(email, email == s.adminEmail, 24*time.Hour)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"account": acct,
		"token":   token,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.ledger.GetAccount(r.Context(), accountID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	balance, err := s.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
		"overdrawn":  balance.IsNegative(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	entries, err := s.ledger.History(r.Context(), accountID, limit, offset)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []credit.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	points, balance, err := s.ledger.CheckIn(r.Context(), accountID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordCheckIn()
		s.collector.RecordLedgerEntry(string(credit.ReasonCheckIn))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"awarded": points,
		"balance": balance,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("code required"))
		return
	}
	amount, balance, err := s.ledger.Redeem(r.Context(), accountID, code)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordRedemption()
		s.collector.RecordLedgerEntry(string(credit.ReasonRedeem))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"awarded": amount,
		"balance": balance,
	})
}

// handleDebit records spending that happens outside the generation
// pipeline, e.g. chat or refine calls metered elsewhere.
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req struct {
		Amount string `json:"amount"`
		Detail string `json:"detail"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid amount"))
		return
	}
	entry, err := s.ledger.Debit(r.Context(), accountID, amount, credit.ReasonGeneration, req.Detail)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordLedgerEntry(string(credit.ReasonGeneration))
	}
	balance, err := s.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"entry":   entry,
		"balance": balance,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}
