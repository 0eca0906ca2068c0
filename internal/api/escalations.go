package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/orchestrator"
	"github.com/MikeSquared-Agency/concierge/internal/processor"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

type resolveRequest struct {
	Reply string `json:"reply"`
}

// orchestrate handles POST /api/v1/orchestrate. It runs the pipeline
// without persisting or dispatching anything.
func (s *Server) orchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Orchestrator.Run(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, orchestrator.ErrNoInput),
		errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, knowledge.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInteractionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("orchestrate failed", "interaction_id", req.InteractionID, "error", err)
		writeError(w, http.StatusInternalServerError, "orchestration failed")
	}
}

// resolveEscalation handles POST /api/v1/escalations/{ticketID}/resolve.
func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Reply = strings.TrimSpace(req.Reply)

	res, err := s.deps.Resolver.ResolveSellerReply(r.Context(), ticketID, req.Reply)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, processor.ErrEmptyReply):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, escalation.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("resolve escalation failed", "ticket_id", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "resolve failed")
	}
}
