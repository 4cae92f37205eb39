package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custodian-hq/custodian/pkg/actions"
)

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	q, err := actionQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.store.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.store.Get(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		s.actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionID")
	if err := s.manager.Cancel(r.Context(), id, actions.ReasonOperator); err != nil {
		s.actionError(w, err)
		return
	}

	action, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleActionResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "actionID")

	action, err := s.store.Get(ctx, id)
	if err != nil {
		s.actionError(w, err)
		return
	}

	results, err := s.store.ListResults(ctx, actions.Query{
		RuleID:          action.RuleID,
		MediaExternalID: action.MediaExternalID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure", err.Error())
		return
	}

	// The query is keyed by (rule, item); narrow to this action.
	filtered := results[:0]
	for _, res := range results {
		if res.ActionID == id {
			filtered = append(filtered, res)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q, err := actionQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.store.ListResults(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// actionQuery parses the shared audit-query parameters.
func actionQuery(r *http.Request) (actions.Query, error) {
	q := actions.Query{
		RuleID:          r.URL.Query().Get("rule_id"),
		MediaExternalID: r.URL.Query().Get("media_external_id"),
	}

	for _, raw := range r.URL.Query()["state"] {
		q.States = append(q.States, actions.State(raw))
	}

	var err error
	if q.Since, err = parseTimeParam(r, "since"); err != nil {
		return q, err
	}
	if q.Until, err = parseTimeParam(r, "until"); err != nil {
		return q, err
	}
	if q.Limit, err = parseIntParam(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = parseIntParam(r, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC 3339")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// actionError maps pending-action errors to HTTP statuses.
func (s *Server) actionError(w http.ResponseWriter, err error) {
	var notFound *actions.NotFoundError
	var transition *actions.TransitionError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "pending action not found")
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "action is not cancellable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "storage failure", err.Error())
	}
}
