package handlers

import (
	"net/http"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// confirmRequest — тело подтверждения. edits nil — подтверждение без изменений.
type confirmRequest struct {
	Edits *model.ActionEdits `json:"edits"`
	Note  *string            `json:"note"`
}

type rejectRequest struct {
	Note *string `json:"note"`
}

// ListReviewQueue — GET /api/v1/review
func (h *APIHandler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	items, total, err := h.Review.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionListResponse{Items: toActionList(items), Total: total, Limit: limit, Offset: offset})
}

// ConfirmAction — POST /api/v1/review/{action_id}/confirm
func (h *APIHandler) ConfirmAction(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "action_id")
	if !ok {
		return
	}
	var body confirmRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	a, err := h.Review.Confirm(r.Context(), ownerID, id, body.Edits, body.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(a))
}

// RejectAction — POST /api/v1/review/{action_id}/reject
func (h *APIHandler) RejectAction(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "action_id")
	if !ok {
		return
	}
	var body rejectRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.Review.Reject(r.Context(), ownerID, id, body.Note); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmAll — POST /api/v1/review/confirm-all
// Частичные ошибки возвращаются в failed со статусом 200.
func (h *APIHandler) ConfirmAll(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	res, err := h.Review.ConfirmAll(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := bulkResponse{Confirmed: res.Confirmed, Failed: make([]bulkFailureResponse, 0, len(res.Failed))}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, bulkFailureResponse{ActionID: f.ActionID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListConfirmations — GET /api/v1/actions/{action_id}/confirmations
// Журнал решений, в том числе по отклонённому (удалённому) действию.
func (h *APIHandler) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "action_id")
	if !ok {
		return
	}

	items, err := h.Review.History(r.Context(), ownerID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]confirmationResponse, 0, len(items))
	for _, c := range items {
		out = append(out, confirmationResponse{
			ID:            c.ID,
			ActionID:      c.ActionID,
			Decision:      string(c.Decision),
			Modifications: c.Modifications,
			Note:          c.Note,
			CreatedAt:     c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
