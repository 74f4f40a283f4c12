package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dealguard/internal/domain"
)

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	entity, err := s.Intake.CreateEntity(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityResponse(entity))
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.Intake.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse(entity))
}

func (s *Server) attachEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category      string `json:"category"`
		Status        string `json:"status"`
		Justification string `json:"justification"`
		ActorID       string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	item, err := s.Intake.AttachEvidence(r.Context(), chi.URLParam(r, "id"),
		domain.EvidenceCategory(req.Category), domain.EvidenceStatus(req.Status), req.Justification, req.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	items, err := s.Intake.ListEvidence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []domain.EvidenceItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) recordHealth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Total      int            `json:"total"`
		Components map[string]int `json:"components"`
		Blockers   []string       `json:"blockers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rec, err := s.Intake.RecordHealth(r.Context(), chi.URLParam(r, "id"), req.Total, req.Components, req.Blockers)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) upsertActor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string     `json:"name"`
		Authority          int        `json:"authority"`
		CertificationUntil *time.Time `json:"certification_until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor := domain.Actor{
		ID:        chi.URLParam(r, "id"),
		Name:      req.Name,
		Authority: domain.AuthorityLevel(req.Authority),
	}
	if req.CertificationUntil != nil {
		actor.CertificationUntil = *req.CertificationUntil
	}
	if err := s.Intake.UpsertActor(r.Context(), actor); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action          string `json:"action"`
		EntityID        string `json:"entity_id"`
		ActorID         string `json:"actor_id"`
		OverrideTokenID string `json:"override_token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.EntityID == "" || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "entity_id and actor_id required")
		return
	}
	decision, err := s.Gateway.Authorize(r.Context(), domain.Action(req.Action), req.EntityID, req.ActorID, req.OverrideTokenID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) requestOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID       string `json:"actor_id"`
		EntityID      string `json:"entity_id"`
		Action        string `json:"action"`
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token, err := s.Overrides.Request(r.Context(), req.ActorID, req.EntityID, domain.Action(req.Action), req.Justification)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse(token))
}

func (s *Server) approveOverride(w http.ResponseWriter, r *http.Request) {
	s.resolveOverride(w, r, s.Overrides.Approve)
}

func (s *Server) denyOverride(w http.ResponseWriter, r *http.Request) {
	s.resolveOverride(w, r, s.Overrides.Deny)
}

func (s *Server) resolveOverride(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, tokenID, approverID string) (domain.OverrideToken, error)) {
	var req struct {
		ApproverID string `json:"approver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id required")
		return
	}
	token, err := resolve(r.Context(), chi.URLParam(r, "id"), req.ApproverID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (s *Server) getOverride(w http.ResponseWriter, r *http.Request) {
	token, err := s.Overrides.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	page, next, err := s.Ledger.List(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if page == nil {
		page = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": page, "next_cursor": next})
}

func entityResponse(e domain.Entity) map[string]any {
	out := map[string]any{
		"id":           e.ID,
		"name":         e.Name,
		"owner_id":     e.OwnerID,
		"stage":        e.Stage,
		"freeze_state": e.FreezeState,
		"version":      e.Version,
		"created_at":   e.CreatedAt,
		"updated_at":   e.UpdatedAt,
	}
	if e.FreezeReason != "" {
		out["freeze_reason"] = e.FreezeReason
	}
	if e.ClosedAt != nil {
		out["closed_at"] = e.ClosedAt
	}
	return out
}

func tokenResponse(t domain.OverrideToken) map[string]any {
	out := map[string]any{
		"id":                 t.ID,
		"entity_id":          t.EntityID,
		"actor_id":           t.ActorID,
		"action":             t.Action,
		"justification":      t.Justification,
		"state":              t.State,
		"denial_reason":      t.DenialReason,
		"required_authority": int(t.RequiredAuthority),
		"requested_at":       t.RequestedAt,
	}
	if t.ApproverID != "" {
		out["approver_id"] = t.ApproverID
	}
	if t.ApprovedAt != nil {
		out["approved_at"] = t.ApprovedAt
	}
	if t.ExpiresAt != nil {
		out["expires_at"] = t.ExpiresAt
	}
	if t.ConsumedAt != nil {
		out["consumed_at"] = t.ConsumedAt
	}
	return out
}
