package handlers

import (
	"encoding/json"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/service"
)

type meetingResponse struct {
	ID                  string              `json:"id"`
	RecordingID         string              `json:"recording_id"`
	Title               string              `json:"title"`
	Type                string              `json:"type"`
	Participants        []string            `json:"participants"`
	Context             *string             `json:"context,omitempty"`
	IsActive            bool                `json:"is_active"`
	StartedAt           time.Time           `json:"started_at"`
	EndedAt             *time.Time          `json:"ended_at,omitempty"`
	DispatchedAt        *time.Time          `json:"dispatched_at,omitempty"`
	ProcessingStatus    string              `json:"processing_status"`
	ProcessingError     *string             `json:"processing_error,omitempty"`
	ProcessingErrorCode *model.FailureCause `json:"processing_error_code,omitempty"`
	HasTranscript       bool                `json:"has_transcript"`
	Transcript          *string             `json:"transcript,omitempty"`
}

func toMeetingResponse(m *model.Meeting, withTranscript bool) meetingResponse {
	resp := meetingResponse{
		ID:                  m.ID,
		RecordingID:         m.RecordingID,
		Title:               m.Title,
		Type:                m.Type,
		Participants:        m.Participants,
		Context:             m.Context,
		IsActive:            m.IsActive,
		StartedAt:           m.StartedAt,
		EndedAt:             m.EndedAt,
		DispatchedAt:        m.DispatchedAt,
		ProcessingStatus:    string(m.ProcessingStatus),
		ProcessingError:     m.ProcessingError,
		ProcessingErrorCode: m.ProcessingErrorCode,
		HasTranscript:       m.HasTranscript(),
	}
	if resp.Participants == nil {
		resp.Participants = []string{}
	}
	if withTranscript {
		resp.Transcript = m.Transcript
	}
	return resp
}

type statusResponse struct {
	MeetingID     string              `json:"meeting_id"`
	Status        string              `json:"status"`
	Error         *string             `json:"error,omitempty"`
	ErrorCode     *model.FailureCause `json:"error_code,omitempty"`
	HasTranscript bool                `json:"has_transcript"`
	ActionsCount  int                 `json:"actions_count"`
}

type progressResponse struct {
	MeetingID string                   `json:"meeting_id"`
	Progress  model.ProcessingProgress `json:"progress"`
	Live      bool                     `json:"live"`
	Outcome   *poller.Outcome          `json:"outcome"`
}

type submitResponse struct {
	MeetingID             string                   `json:"meeting_id"`
	RecordingID           string                   `json:"recording_id"`
	EstimatedTotalSeconds int                      `json:"estimated_total_seconds"`
	StartedAt             time.Time                `json:"started_at"`
	Progress              model.ProcessingProgress `json:"progress"`
}

func toSubmitResponse(res *service.SubmitResult) submitResponse {
	return submitResponse{
		MeetingID:             res.Handle.MeetingID,
		RecordingID:           res.Handle.RecordingID,
		EstimatedTotalSeconds: int(res.Handle.EstimatedTotal / time.Second),
		StartedAt:             res.Handle.StartedAt,
		Progress:              res.Progress,
	}
}

type actionResponse struct {
	ID               string    `json:"id"`
	MeetingID        string    `json:"meeting_id"`
	ActionText       string    `json:"action_text"`
	Assignee         *string   `json:"assignee,omitempty"`
	DueContext       *string   `json:"due_context,omitempty"`
	Priority         int       `json:"priority"`
	Category         string    `json:"category"`
	ValidationScore  int       `json:"validation_score"`
	ValidationIssues []string  `json:"validation_issues"`
	ConfidenceScore  float64   `json:"confidence_score"`
	RequiresReview   bool      `json:"requires_review"`
	Status           string    `json:"status"`
	StatusNote       *string   `json:"status_note,omitempty"`
	ExtractionMethod string    `json:"extraction_method"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toActionResponse(a *model.ExtractedAction) actionResponse {
	issues := a.ValidationIssues
	if issues == nil {
		issues = []string{}
	}
	return actionResponse{
		ID:               a.ID,
		MeetingID:        a.MeetingID,
		ActionText:       a.ActionText,
		Assignee:         a.Assignee,
		DueContext:       a.DueContext,
		Priority:         a.Priority,
		Category:         a.Category,
		ValidationScore:  a.ValidationScore,
		ValidationIssues: issues,
		ConfidenceScore:  a.ConfidenceScore,
		RequiresReview:   a.RequiresReview,
		Status:           string(a.Status),
		StatusNote:       a.StatusNote,
		ExtractionMethod: string(a.ExtractionMethod),
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toActionList(items []*model.ExtractedAction) []actionResponse {
	out := make([]actionResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toActionResponse(a))
	}
	return out
}

type actionListResponse struct {
	Items  []actionResponse `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type confirmationResponse struct {
	ID            string          `json:"id"`
	ActionID      string          `json:"action_id"`
	Decision      string          `json:"decision"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	Note          *string         `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type bulkFailureResponse struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

type bulkResponse struct {
	Confirmed []string              `json:"confirmed"`
	Failed    []bulkFailureResponse `json:"failed"`
}
