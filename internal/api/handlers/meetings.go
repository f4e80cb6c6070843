package handlers

import (
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/smartact/internal/api/errors"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/repository"
)

// ListMeetings — GET /api/v1/meetings?status=&is_active=&limit=&offset=
func (h *APIHandler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	var filters repository.MeetingListFilters
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.ProcessingStatus(v)
		if !st.Valid() {
			apierrors.ValidationError(w, "status должен быть pending, completed или failed")
			return
		}
		filters.Status = &st
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ValidationError(w, "is_active должен быть true или false")
			return
		}
		filters.IsActive = &active
	}

	items, err := h.Meetings.List(r.Context(), ownerID, filters, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]meetingResponse, 0, len(items))
	for _, m := range items {
		out = append(out, toMeetingResponse(m, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "limit": limit, "offset": offset})
}

// GetMeeting — GET /api/v1/meetings/{meeting_id}
func (h *APIHandler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "meeting_id")
	if !ok {
		return
	}

	m, err := h.Meetings.Get(r.Context(), ownerID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(m, true))
}

// GetMeetingStatus — GET /api/v1/meetings/{meeting_id}/status
// Данные одного тика Completion Poller: статус, ошибка, расшифровка, число действий.
func (h *APIHandler) GetMeetingStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "meeting_id")
	if !ok {
		return
	}

	snap, err := h.Meetings.Snapshot(r.Context(), ownerID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		MeetingID:     id,
		Status:        string(snap.Status),
		Error:         snap.Error,
		ErrorCode:     snap.ErrorCode,
		HasTranscript: snap.HasTranscript,
		ActionsCount:  snap.ActionsCount,
	})
}

// GetMeetingProgress — GET /api/v1/meetings/{meeting_id}/progress
func (h *APIHandler) GetMeetingProgress(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "meeting_id")
	if !ok {
		return
	}

	view, err := h.Meetings.Progress(r.Context(), ownerID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		MeetingID: view.MeetingID,
		Progress:  view.Progress,
		Live:      view.Live,
		Outcome:   view.Outcome,
	})
}

// ListMeetingActions — GET /api/v1/meetings/{meeting_id}/actions
func (h *APIHandler) ListMeetingActions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "meeting_id")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	items, total, err := h.Actions.ListByMeeting(r.Context(), ownerID, id, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionListResponse{Items: toActionList(items), Total: total, Limit: limit, Offset: offset})
}
