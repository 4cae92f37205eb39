package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custodian-hq/custodian/pkg/actions"
	"custodian-hq/custodian/pkg/engine"
	"custodian-hq/custodian/pkg/rules"
	rulestore "custodian-hq/custodian/pkg/rules/store"
	"custodian-hq/custodian/pkg/rules/validator"
	"custodian-hq/custodian/pkg/scheduler"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.List(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := validator.Validate(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "rule validation failed", err.Error())
		return
	}

	if err := s.rules.Create(r.Context(), &rule); err != nil {
		s.storeError(w, err)
		return
	}

	s.refreshSchedule(r)
	writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rule.ID = chi.URLParam(r, "ruleID")
	if err := validator.Validate(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "rule validation failed", err.Error())
		return
	}

	if err := s.rules.Update(r.Context(), &rule); err != nil {
		s.storeError(w, err)
		return
	}

	s.refreshSchedule(r)
	updated, err := s.rules.Get(r.Context(), rule.ID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "ruleID")

	if _, err := s.rules.Get(ctx, ruleID); err != nil {
		s.storeError(w, err)
		return
	}

	cancelled, err := s.manager.CancelAllForRule(ctx, ruleID, actions.ReasonRuleDeleted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel pending actions", err.Error())
		return
	}

	if err := s.rules.Delete(ctx, ruleID); err != nil {
		s.storeError(w, err)
		return
	}

	s.refreshSchedule(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":           true,
		"cancelled_actions": cancelled,
	})
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

// setEnabled flips the enabled flag. Disabling also cancels every live
// pending action owned by the rule so nothing executes later.
func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "ruleID")

	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	rule.Enabled = enabled
	if err := s.rules.Update(ctx, rule); err != nil {
		s.storeError(w, err)
		return
	}

	cancelled := 0
	if !enabled {
		cancelled, err = s.manager.CancelAllForRule(ctx, ruleID, actions.ReasonRuleDisabled)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to cancel pending actions", err.Error())
			return
		}
	}

	s.refreshSchedule(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":           enabled,
		"cancelled_actions": cancelled,
	})
}

func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "ruleID")

	if r.URL.Query().Get("dry_run") == "true" {
		rule, err := s.rules.Get(ctx, ruleID)
		if err != nil {
			s.storeError(w, err)
			return
		}
		summary, err := s.dryRun.DryRun(ctx, rule, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusBadGateway, "dry run failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	summary, err := s.runner.RunNow(ctx, ruleID)
	if err != nil {
		var busy *scheduler.AlreadyRunningError
		var notFound *rulestore.NotFoundError
		switch {
		case errors.As(err, &busy):
			writeError(w, http.StatusConflict, "rule pass already running")
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "rule not found")
		default:
			writeError(w, http.StatusConflict, "run rejected", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// previewRequest evaluates ad-hoc criteria against one item without
// persisting a rule or touching pending actions.
type previewRequest struct {
	MediaType  rules.MediaType `json:"media_type"`
	ServiceID  string          `json:"service_id,omitempty"`
	ExternalID string          `json:"external_id"`
	Criteria   rules.Criteria  `json:"criteria"`
}

type previewResponse struct {
	Matched     bool                      `json:"matched"`
	EvaluatedAt time.Time                 `json:"evaluated_at"`
	Trace       []engine.ConditionOutcome `json:"trace"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !req.MediaType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown media_type")
		return
	}
	if req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}
	if err := validator.ValidateCriteria(req.MediaType, &req.Criteria); err != nil {
		writeError(w, http.StatusBadRequest, "criteria validation failed", err.Error())
		return
	}

	snap, err := s.gateway.GetItem(r.Context(), req.MediaType, req.ServiceID, req.ExternalID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch item", err.Error())
		return
	}

	now := time.Now().UTC()
	result := engine.Evaluate(&req.Criteria, snap, now)
	writeJSON(w, http.StatusOK, previewResponse{
		Matched:     result.Matched,
		EvaluatedAt: now,
		Trace:       result.Trace,
	})
}

// refreshSchedule re-syncs cron entries after a rule mutation.
func (s *Server) refreshSchedule(r *http.Request) {
	if s.runner == nil {
		return
	}
	if err := s.runner.Refresh(r.Context()); err != nil {
		s.logger.Error("schedule refresh failed", "error", err)
	}
}

// storeError maps rule store errors to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	var notFound *rulestore.NotFoundError
	var conflict *rulestore.ConflictError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "rule not found")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "rule name already in use")
	default:
		writeError(w, http.StatusInternalServerError, "storage failure", err.Error())
	}
}
