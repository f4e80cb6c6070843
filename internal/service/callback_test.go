package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/repository"
)

func pendingMeeting() *model.Meeting {
	return &model.Meeting{ID: "m-1", OwnerID: "user-1", RecordingID: "r-1", ProcessingStatus: model.StatusPending, IsActive: true}
}

func TestCompleteMeeting_StoresNormalizedActions(t *testing.T) {
	repos := newTestRepos()
	var upd repository.TerminalUpdate
	repos.meetings.finishFn = func(_ context.Context, id string, u repository.TerminalUpdate) (*model.Meeting, error) {
		upd = u
		m := pendingMeeting()
		m.ProcessingStatus = u.Status
		m.Transcript = u.Transcript
		return m, nil
	}
	var stored []*model.ExtractedAction
	repos.actions.createBatchFn = func(_ context.Context, actions []*model.ExtractedAction) error {
		stored = actions
		return nil
	}

	svc := NewCallbackService(repos.tx(), 0.7, testLogger())
	summary, err := svc.CompleteMeeting(context.Background(), "m-1", ResultRequest{
		Status:     model.StatusCompleted,
		Transcript: strPtr("hello"),
		Actions: []ActionInput{
			{ActionText: "Отправить отчёт", ValidationScore: 100, ConfidenceScore: 0.95},
			{ActionText: "Созвониться", ValidationScore: 100, ConfidenceScore: 0.4},
			{ActionText: "Обновить план", ValidationScore: 80, ValidationIssues: []string{"no_due_date"}, ConfidenceScore: 0.9},
		},
	})
	if err != nil {
		t.Fatalf("CompleteMeeting: %v", err)
	}
	if upd.Status != model.StatusCompleted {
		t.Errorf("status = %q", upd.Status)
	}
	if summary.ActionsCount != 3 || summary.ReviewPending != 2 {
		t.Errorf("summary = %+v, ожидалось 3 действия и 2 на проверку", summary)
	}
	if len(stored) != 3 {
		t.Fatalf("сохранено %d действий", len(stored))
	}

	for _, a := range stored {
		if a.OwnerID != "user-1" || a.MeetingID != "m-1" {
			t.Errorf("владелец/Meeting действия: %q/%q", a.OwnerID, a.MeetingID)
		}
		if a.RequiresReview != (a.ValidationScore < model.MaxValidationScore) {
			t.Errorf("нарушена связь requires_review и validation_score: %+v", a)
		}
		if a.Priority != defaultPriority {
			t.Errorf("priority = %d, ожидалось %d", a.Priority, defaultPriority)
		}
	}
	if stored[1].ValidationScore != 99 {
		t.Errorf("низкая уверенность: score = %d, ожидалось 99", stored[1].ValidationScore)
	}
}

func TestCompleteMeeting_SecondCallback(t *testing.T) {
	repos := newTestRepos()
	repos.meetings.finishFn = func(context.Context, string, repository.TerminalUpdate) (*model.Meeting, error) {
		return nil, repository.ErrPrecondition
	}
	batchCalled := false
	repos.actions.createBatchFn = func(context.Context, []*model.ExtractedAction) error {
		batchCalled = true
		return nil
	}

	svc := NewCallbackService(repos.tx(), 0.7, testLogger())
	_, err := svc.CompleteMeeting(context.Background(), "m-1", ResultRequest{
		Status:  model.StatusCompleted,
		Actions: []ActionInput{{ActionText: "x", ValidationScore: 100, ConfidenceScore: 1}},
	})
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("ожидалась ErrAlreadyTerminal, получено %v", err)
	}
	if batchCalled {
		t.Error("действия не должны сохраняться при повторном callback")
	}
}

func TestCompleteMeeting_UnknownMeeting(t *testing.T) {
	repos := newTestRepos()
	svc := NewCallbackService(repos.tx(), 0.7, testLogger())

	_, err := svc.CompleteMeeting(context.Background(), "m-404", ResultRequest{Status: model.StatusFailed})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestCompleteMeeting_FailedWithTranscript(t *testing.T) {
	repos := newTestRepos()
	var upd repository.TerminalUpdate
	repos.meetings.finishFn = func(_ context.Context, _ string, u repository.TerminalUpdate) (*model.Meeting, error) {
		upd = u
		return pendingMeeting(), nil
	}

	code := model.CauseQuotaExceeded
	svc := NewCallbackService(repos.tx(), 0.7, testLogger())
	_, err := svc.CompleteMeeting(context.Background(), "m-1", ResultRequest{
		Status:     model.StatusFailed,
		Transcript: strPtr("partial transcript"),
		Error:      strPtr("quota exceeded"),
		ErrorCode:  &code,
	})
	if err != nil {
		t.Fatalf("CompleteMeeting: %v", err)
	}
	if upd.Transcript == nil || *upd.Transcript != "partial transcript" {
		t.Error("расшифровка должна сохраняться и при failed")
	}
	if upd.ErrorCode == nil || *upd.ErrorCode != model.CauseQuotaExceeded {
		t.Errorf("error_code = %v", upd.ErrorCode)
	}
}

func TestCompleteMeeting_Validation(t *testing.T) {
	bad := model.FailureCause("boom")
	tests := []struct {
		name string
		req  ResultRequest
	}{
		{"pending status", ResultRequest{Status: model.StatusPending}},
		{"unknown error code", ResultRequest{Status: model.StatusFailed, ErrorCode: &bad}},
		{"error on completed", ResultRequest{Status: model.StatusCompleted, Error: strPtr("x")}},
		{"empty action text", ResultRequest{Status: model.StatusCompleted, Actions: []ActionInput{{ActionText: " "}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos := newTestRepos()
			tx := repos.tx()
			svc := NewCallbackService(tx, 0.7, testLogger())
			_, err := svc.CompleteMeeting(context.Background(), "m-1", tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидалась ErrValidation, получено %v", err)
			}
			if tx.calls != 0 {
				t.Error("транзакция не должна открываться при ошибке валидации")
			}
		})
	}
}
