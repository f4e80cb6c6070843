package handlers

import (
	"net/http"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/service"
)

type resultActionRequest struct {
	ActionText       string   `json:"action_text"`
	Assignee         *string  `json:"assignee"`
	DueContext       *string  `json:"due_context"`
	Priority         *int     `json:"priority"`
	Category         string   `json:"category"`
	ValidationScore  int      `json:"validation_score"`
	ValidationIssues []string `json:"validation_issues"`
	ConfidenceScore  float64  `json:"confidence_score"`
}

type resultRequest struct {
	Status     model.ProcessingStatus `json:"status"`
	Transcript *string                `json:"transcript"`
	Error      *string                `json:"error"`
	ErrorCode  *model.FailureCause    `json:"error_code"`
	Actions    []resultActionRequest  `json:"actions"`
}

type resultResponse struct {
	MeetingID     string `json:"meeting_id"`
	Status        string `json:"status"`
	ActionsCount  int    `json:"actions_count"`
	ReviewPending int    `json:"review_pending"`
}

// SubmitResult — POST /internal/v1/meetings/{meeting_id}/result
// Callback сервиса извлечения (Service Account со scope meetings:callback).
// Повторный callback для терминальной Meeting — 409.
func (h *APIHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meeting_id")
	if !ok {
		return
	}
	var body resultRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	req := service.ResultRequest{
		Status:     body.Status,
		Transcript: body.Transcript,
		Error:      body.Error,
		ErrorCode:  body.ErrorCode,
		Actions:    make([]service.ActionInput, 0, len(body.Actions)),
	}
	for _, a := range body.Actions {
		req.Actions = append(req.Actions, service.ActionInput{
			ActionText:       a.ActionText,
			Assignee:         a.Assignee,
			DueContext:       a.DueContext,
			Priority:         a.Priority,
			Category:         a.Category,
			ValidationScore:  a.ValidationScore,
			ValidationIssues: a.ValidationIssues,
			ConfidenceScore:  a.ConfidenceScore,
		})
	}

	summary, err := h.Results.CompleteMeeting(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		MeetingID:     id,
		Status:        string(summary.Meeting.ProcessingStatus),
		ActionsCount:  summary.ActionsCount,
		ReviewPending: summary.ReviewPending,
	})
}
