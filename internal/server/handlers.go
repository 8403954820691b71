package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/domain"
	"github.com/xela07ax/freedom-sandbox/internal/infra/auth"
	"github.com/xela07ax/freedom-sandbox/internal/sandbox"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type actRequest struct {
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params"`
	DryRun    bool           `json:"dry_run"`
	HumanGate bool           `json:"human_gate"`
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := domain.ParseActionKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.facade.Act(r.Context(), kind, req.Params, sandbox.Options{
		DryRun:    req.DryRun,
		HumanGate: req.HumanGate,
		TraceID:   extractTraceID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == sandbox.StatusPending {
		status = http.StatusAccepted // Действие припарковано, решение за оператором
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	var cap domain.Capability
	if err := json.NewDecoder(r.Body).Decode(&cap); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.facade.SetCapability(cap); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.facade.PendingApprovals())
}

type decideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// ReviewerID — авторизованный оператор; в dev-режиме (без токена)
	// принимаем явный заголовок
	reviewer := auth.UserID(r.Context())
	if reviewer == "" {
		reviewer = r.Header.Get("X-Reviewer-ID")
	}
	if reviewer == "" {
		s.writeError(w, http.StatusBadRequest, "reviewer identity is required")
		return
	}

	if req.Approved {
		result, err := s.facade.Approve(r.Context(), id, reviewer)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.facade.Deny(r.Context(), id, reviewer, req.Comment); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAwait держит соединение, пока по тикету не примут решение
// (либо не истечет контекст запроса).
func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.facade.AwaitDecision(r.Context(), id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusRequestTimeout, "decision wait aborted")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	entries := make([]audit.Entry, 0)
	for e := range s.facade.Audit() {
		entries = append(entries, e)
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"valid": true}
	if err := s.facade.AuditIntegrity(); err != nil {
		var integrity *domain.AuditIntegrityError
		resp["valid"] = false
		if errors.As(err, &integrity) {
			resp["broken_at"] = integrity.Index
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := s.archive.FetchEntries(r.Context(), q.Get("scope"), q.Get("kind"), limit)
	if err != nil {
		s.logger.Error("audit archive query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	st := s.facade.Status()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scope":     st.Scope,
		"committed": st.BudgetUsage,
		"held":      st.BudgetHeld,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.facade.Status())
}

// writeDomainError транслирует таксономию ошибок фасада в HTTP-статусы.
// Структурные поля (retry_after, remaining) отдаются агенту как есть:
// машиночитаемый отказ ценнее красивой строки.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		policyErr   *domain.PolicyViolationError
		rateErr     *domain.RateLimitedError
		budgetErr   *domain.BudgetExceededError
		missingErr  *domain.MissingProviderError
		providerErr *domain.ProviderError
	)

	switch {
	case errors.Is(err, domain.ErrNoCapability):
		s.writeError(w, http.StatusForbidden, err.Error())

	case errors.As(err, &policyErr):
		s.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":         "policy_violation",
			"kind":          policyErr.Kind,
			"capability_id": policyErr.CapabilityID,
		})

	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())+1))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "rate_limited",
			"scope":          rateErr.Scope,
			"retry_after_ms": rateErr.RetryAfter.Milliseconds(),
		})

	case errors.As(err, &budgetErr):
		s.writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "budget_exceeded",
			"scope":     budgetErr.Scope,
			"requested": budgetErr.Requested,
			"remaining": budgetErr.Remaining,
		})

	case errors.As(err, &missingErr):
		s.writeError(w, http.StatusNotImplemented, err.Error())

	case errors.As(err, &providerErr):
		s.writeError(w, http.StatusBadGateway, err.Error())

	case errors.Is(err, domain.ErrTicketNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, domain.ErrHumanGateDenied):
		s.writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, domain.ErrHumanGateExpired):
		s.writeError(w, http.StatusGone, err.Error())

	case errors.Is(err, domain.ErrAlreadyProcessed), errors.Is(err, domain.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())

	default:
		s.logger.Error("unclassified failure", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Addr собирает адрес прослушивания из конфига.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}
