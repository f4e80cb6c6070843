package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/smartact/internal/api/errors"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/service"
)

type statusUpdateRequest struct {
	Status         model.ActionStatus `json:"status"`
	Note           *string            `json:"note"`
	NotifyWatchers bool               `json:"notify_watchers"`
}

// GetAction — GET /api/v1/actions/{action_id}
func (h *APIHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "action_id")
	if !ok {
		return
	}

	a, err := h.Actions.Get(r.Context(), ownerID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(a))
}

// UpdateActionStatus — PATCH /api/v1/actions/{action_id}/status
func (h *APIHandler) UpdateActionStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "action_id")
	if !ok {
		return
	}
	var body statusUpdateRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if body.Status == "" {
		apierrors.ValidationError(w, "status обязателен")
		return
	}

	a, err := h.Actions.UpdateStatus(r.Context(), ownerID, id, service.StatusUpdate{
		Status:         body.Status,
		Note:           body.Note,
		NotifyWatchers: body.NotifyWatchers,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(a))
}
