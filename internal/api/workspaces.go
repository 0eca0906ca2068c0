package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/gaps"
)

const defaultGapWindow = 30 * 24 * time.Hour

// GapsResponse is the body of the knowledge-gap routes.
type GapsResponse struct {
	WorkspaceID string     `json:"workspace_id"`
	Since       time.Time  `json:"since"`
	Threshold   float64    `json:"threshold"`
	Gaps        []gaps.Gap `json:"gaps"`
	Count       int        `json:"count"`
	Published   int        `json:"published"`
	DryRun      bool       `json:"dry_run"`
}

type dedupRequest struct {
	Threshold float64 `json:"threshold"`
	Execute   bool    `json:"execute"`
}

// knowledgeGaps handles GET .../knowledge-gaps?since=&threshold=.
func (s *Server) knowledgeGaps(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.findGaps(w, r)
	if !ok {
		return
	}
	resp.DryRun = true
	writeJSON(w, http.StatusOK, resp)
}

// scanKnowledgeGaps handles POST .../knowledge-gaps/scan and publishes one
// event per gap.
func (s *Server) scanKnowledgeGaps(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.findGaps(w, r)
	if !ok {
		return
	}
	if s.deps.GapPublisher == nil {
		resp.DryRun = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	n, err := s.deps.GapPublisher.PublishGaps(resp.WorkspaceID, resp.Gaps)
	resp.Published = n
	if err != nil {
		s.logger.Warn("failed to publish knowledge gaps", "workspace_id", resp.WorkspaceID, "published", n, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) findGaps(w http.ResponseWriter, r *http.Request) (*GapsResponse, bool) {
	ws := chi.URLParam(r, "workspaceID")
	q := r.URL.Query()

	since := time.Now().Add(-defaultGapWindow).UTC()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp: "+err.Error())
			return nil, false
		}
		since = t
	}

	threshold := gaps.DefaultThreshold
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "invalid threshold: must be in (0, 1]")
			return nil, false
		}
		threshold = f
	}

	found, err := s.deps.Gaps.FindGaps(r.Context(), ws, since, threshold)
	if err != nil {
		s.logger.Error("knowledge gap scan failed", "workspace_id", ws, "error", err)
		writeError(w, http.StatusInternalServerError, "scan failed")
		return nil, false
	}
	if found == nil {
		found = []gaps.Gap{}
	}

	return &GapsResponse{
		WorkspaceID: ws,
		Since:       since,
		Threshold:   threshold,
		Gaps:        found,
		Count:       len(found),
	}, true
}

// dedupKnowledge handles POST .../knowledge/dedup. Without execute it only
// reports the clusters it would collapse.
func (s *Server) dedupKnowledge(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspaceID")

	var req dedupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Sweeper.Sweep(r.Context(), ws, req.Threshold, req.Execute)
	if err != nil {
		s.logger.Error("knowledge dedup failed", "workspace_id", ws, "error", err)
		writeError(w, http.StatusInternalServerError, "dedup failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) knowledgeStats(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspaceID")

	total, verified, err := s.deps.Store.CountKnowledge(r.Context(), ws)
	if err != nil {
		s.logger.Error("count knowledge failed", "workspace_id", ws, "error", err)
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": ws,
		"total":        total,
		"verified":     verified,
		"unverified":   total - verified,
	})
}

// listTickets handles GET .../tickets?status=&limit=.
func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspaceID")
	q := r.URL.Query()

	status := escalation.Status(q.Get("status"))
	switch status {
	case "", escalation.StatusPending, escalation.StatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tickets, err := s.deps.Store.ListTickets(r.Context(), ws, status, limit)
	if err != nil {
		s.logger.Error("list tickets failed", "workspace_id", ws, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if tickets == nil {
		tickets = []escalation.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets, "count": len(tickets)})
}
