package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/extractor"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/storage/audiostore"
)

// intakeFixture хранит созданные Intake записи, чтобы Dispatch мог их прочитать.
type intakeFixture struct {
	repos     *testRepos
	submitter *mockSubmitter
	recording *model.Recording
	meeting   *model.Meeting
	finished  *repository.TerminalUpdate
	claims    int
}

func newIntakeFixture() *intakeFixture {
	f := &intakeFixture{repos: newTestRepos(), submitter: &mockSubmitter{}}
	f.repos.recordings.createFn = func(_ context.Context, rec *model.Recording) error {
		f.recording = rec
		return nil
	}
	f.repos.recordings.getByIDFn = func(_ context.Context, _, id string) (*model.Recording, error) {
		if f.recording == nil || f.recording.ID != id {
			return nil, repository.ErrNotFound
		}
		return f.recording, nil
	}
	f.repos.meetings.createFn = func(_ context.Context, m *model.Meeting) error {
		f.meeting = m
		return nil
	}
	f.repos.meetings.getByIDFn = func(_ context.Context, ownerID, id string) (*model.Meeting, error) {
		if f.meeting == nil || f.meeting.ID != id || f.meeting.OwnerID != ownerID {
			return nil, repository.ErrNotFound
		}
		return f.meeting, nil
	}
	f.repos.meetings.claimDispatchFn = func(context.Context, string, string, time.Time) error {
		f.claims++
		if f.claims > 1 {
			return repository.ErrPrecondition
		}
		return nil
	}
	f.repos.meetings.finishFn = func(_ context.Context, _ string, upd repository.TerminalUpdate) (*model.Meeting, error) {
		f.finished = &upd
		return f.meeting, nil
	}
	return f
}

func (f *intakeFixture) service(store AudioStore, tracker *ProgressTracker) *IntakeService {
	return NewIntakeService(f.repos.repos(), f.repos.tx(), store, f.submitter, tracker,
		progress.New(0.5, 60*time.Second), 1024, testLogger())
}

func inlineRequest(body string) IntakeRequest {
	return IntakeRequest{
		OwnerID:         "user-1",
		Title:           "  Планёрка  ",
		Participants:    []string{"alice", " ", "bob"},
		DurationSeconds: 120,
		Audio:           strings.NewReader(body),
		Filename:        "standup.m4a",
		ContentType:     "audio/mp4",
	}
}

func TestIntake_InlinePayload(t *testing.T) {
	f := newIntakeFixture()
	svc := f.service(nil, nil)

	handle, err := svc.Intake(context.Background(), inlineRequest("audio-bytes"))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if handle.EstimatedTotal != 60*time.Second {
		t.Errorf("EstimatedTotal = %v, ожидалось 60s", handle.EstimatedTotal)
	}
	if handle.MeetingID != f.meeting.ID || handle.RecordingID != f.recording.ID {
		t.Error("handle не соответствует созданным записям")
	}
	if string(f.recording.InlinePayload) != "audio-bytes" || f.recording.StoragePath != nil {
		t.Errorf("ожидался inline payload, получено %+v", f.recording)
	}
	if f.meeting.Title != "Планёрка" || f.meeting.Type != "meeting" {
		t.Errorf("title/type = %q/%q", f.meeting.Title, f.meeting.Type)
	}
	if len(f.meeting.Participants) != 2 {
		t.Errorf("participants = %v, ожидалось 2", f.meeting.Participants)
	}
}

func TestIntake_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *IntakeRequest)
	}{
		{"no owner", func(r *IntakeRequest) { r.OwnerID = "" }},
		{"empty title", func(r *IntakeRequest) { r.Title = "   " }},
		{"long title", func(r *IntakeRequest) { r.Title = strings.Repeat("x", 501) }},
		{"both sources", func(r *IntakeRequest) { r.StoragePath = "user-1/a.m4a" }},
		{"no source", func(r *IntakeRequest) { r.Audio = nil }},
		{"negative duration", func(r *IntakeRequest) { r.DurationSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIntakeFixture()
			req := inlineRequest("audio")
			tt.mutate(&req)
			_, err := f.service(nil, nil).Intake(context.Background(), req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидалась ErrValidation, получено %v", err)
			}
			if f.meeting != nil {
				t.Error("Meeting не должна создаваться при ошибке валидации")
			}
		})
	}
}

func TestIntake_InlineTooLarge(t *testing.T) {
	f := newIntakeFixture()
	_, err := f.service(nil, nil).Intake(context.Background(), inlineRequest(strings.Repeat("a", 2048)))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ErrValidation, получено %v", err)
	}
}

func TestIntake_StoreUploadRollbackOnTxError(t *testing.T) {
	f := newIntakeFixture()
	f.repos.meetings.createFn = func(context.Context, *model.Meeting) error {
		return errors.New("db down")
	}
	store := &mockAudioStore{}

	_, err := f.service(store, nil).Intake(context.Background(), inlineRequest("audio"))
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if len(store.deleted) != 1 {
		t.Errorf("файл должен быть удалён после отката, deleted=%v", store.deleted)
	}
}

func TestIntake_StoragePathMissing(t *testing.T) {
	f := newIntakeFixture()
	store := &mockAudioStore{statFn: func(string) (int64, error) { return 0, audiostore.ErrNotFound }}
	req := inlineRequest("")
	req.Audio = nil
	req.StoragePath = "user-1/missing.m4a"

	_, err := f.service(store, nil).Intake(context.Background(), req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ErrValidation, получено %v", err)
	}
}

func TestDispatch_ByReference(t *testing.T) {
	f := newIntakeFixture()
	svc := f.service(&mockAudioStore{}, nil)

	handle, err := svc.Intake(context.Background(), inlineRequest("audio"))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if err := svc.Dispatch(context.Background(), *handle); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(f.submitter.jobs) != 1 {
		t.Fatalf("ожидался 1 вызов сервиса извлечения, получено %d", len(f.submitter.jobs))
	}
	job := f.submitter.jobs[0]
	if job.StoragePath == "" || job.AudioBase64 != "" {
		t.Errorf("ожидалась передача по ссылке, получено %+v", job)
	}
	if job.MeetingID != handle.MeetingID || job.UserID != "user-1" {
		t.Errorf("идентификаторы задания: %q/%q", job.MeetingID, job.UserID)
	}
	if f.finished != nil {
		t.Error("Meeting не должна завершаться при успешном dispatch")
	}
}

func TestDispatch_Inline(t *testing.T) {
	f := newIntakeFixture()
	svc := f.service(nil, nil)

	handle, _ := svc.Intake(context.Background(), inlineRequest("audio"))
	if err := svc.Dispatch(context.Background(), *handle); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := f.submitter.jobs[0].AudioBase64; got != extractor.EncodeInline([]byte("audio")) {
		t.Errorf("AudioBase64 = %q", got)
	}
}

func TestDispatch_Twice(t *testing.T) {
	f := newIntakeFixture()
	svc := f.service(nil, nil)

	handle, _ := svc.Intake(context.Background(), inlineRequest("audio"))
	if err := svc.Dispatch(context.Background(), *handle); err != nil {
		t.Fatalf("первый Dispatch: %v", err)
	}
	err := svc.Dispatch(context.Background(), *handle)
	if !errors.Is(err, ErrAlreadyDispatched) {
		t.Fatalf("ожидалась ErrAlreadyDispatched, получено %v", err)
	}
	if len(f.submitter.jobs) != 1 {
		t.Errorf("сервис извлечения вызван %d раз, ожидался 1", len(f.submitter.jobs))
	}
}

func TestDispatch_FailureMarksMeetingFailed(t *testing.T) {
	f := newIntakeFixture()
	f.submitter.submitFn = func(context.Context, extractor.JobRequest) (*extractor.JobAccepted, error) {
		return nil, &extractor.RejectedError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	}
	svc := f.service(nil, nil)

	handle, _ := svc.Intake(context.Background(), inlineRequest("audio"))
	err := svc.Dispatch(context.Background(), *handle)
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("ожидалась ErrDispatch, получено %v", err)
	}
	var rejected *extractor.RejectedError
	if !errors.As(err, &rejected) {
		t.Error("исходная ошибка сервиса должна сохраняться в цепочке")
	}

	if f.finished == nil {
		t.Fatal("Meeting должна быть переведена в failed")
	}
	if f.finished.Status != model.StatusFailed {
		t.Errorf("status = %q, ожидалось failed", f.finished.Status)
	}
	if f.finished.ErrorCode == nil || *f.finished.ErrorCode != model.CauseQuotaExceeded {
		t.Errorf("error_code = %v, ожидалось quota_exceeded", f.finished.ErrorCode)
	}
	if f.finished.Error == nil || !strings.Contains(*f.finished.Error, "slow down") {
		t.Errorf("ошибка dispatch должна сохраняться, получено %v", f.finished.Error)
	}
}

// stubPoller сразу возвращает заданный итог.
type stubPoller struct {
	out   poller.Outcome
	calls chan model.JobHandle
}

func (p *stubPoller) Wait(_ context.Context, handle model.JobHandle, onProgress model.ProgressFunc) poller.Outcome {
	if p.calls != nil {
		p.calls <- handle
	}
	onProgress(model.ProcessingProgress{Stage: model.StageComplete, Progress: 100, Message: p.out.Message})
	return p.out
}

func TestSubmit_StartsPolling(t *testing.T) {
	f := newIntakeFixture()
	sp := &stubPoller{
		out:   poller.Outcome{Kind: poller.KindCompleted, Success: true, Message: "Found 1 SMART ACT!"},
		calls: make(chan model.JobHandle, 1),
	}
	tracker := NewProgressTracker(sp, 16, time.Minute, testLogger())
	defer tracker.Stop()

	res, err := f.service(nil, tracker).Submit(context.Background(), inlineRequest("audio"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Progress.Stage != model.StageUploading {
		t.Errorf("stage = %q, ожидалось uploading", res.Progress.Stage)
	}

	select {
	case h := <-sp.calls:
		if h.MeetingID != res.Handle.MeetingID {
			t.Errorf("опрос запущен для %q, ожидалось %q", h.MeetingID, res.Handle.MeetingID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("опрос не запущен")
	}
}

func TestSubmit_DispatchFailureSkipsPolling(t *testing.T) {
	f := newIntakeFixture()
	f.submitter.submitFn = func(context.Context, extractor.JobRequest) (*extractor.JobAccepted, error) {
		return nil, &extractor.RejectedError{StatusCode: http.StatusUnauthorized, Body: "invalid api key"}
	}
	sp := &stubPoller{calls: make(chan model.JobHandle, 1)}
	tracker := NewProgressTracker(sp, 16, time.Minute, testLogger())
	defer tracker.Stop()

	res, err := f.service(nil, tracker).Submit(context.Background(), inlineRequest("audio"))
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("ожидалась ErrDispatch, получено %v", err)
	}

	sess, ok := tracker.Get("user-1", res.Handle.MeetingID)
	if !ok || !sess.Done() {
		t.Fatal("ожидалась завершённая сессия")
	}
	if sess.Outcome.Kind != poller.KindDispatchFailed || sess.Outcome.Cause != model.CauseMisconfigured {
		t.Errorf("outcome = %+v", sess.Outcome)
	}
	if sess.Progress.Stage != model.StageFailed {
		t.Errorf("stage = %q, ожидалось failed", sess.Progress.Stage)
	}
	select {
	case <-sp.calls:
		t.Error("опрос не должен запускаться после ошибки dispatch")
	default:
	}
}

func TestSubmit_ClaimErrorFailsMeeting(t *testing.T) {
	f := newIntakeFixture()
	f.repos.meetings.claimDispatchFn = func(context.Context, string, string, time.Time) error {
		return errors.New("connection reset by peer")
	}
	sp := &stubPoller{calls: make(chan model.JobHandle, 1)}
	tracker := NewProgressTracker(sp, 16, time.Minute, testLogger())
	defer tracker.Stop()

	res, err := f.service(nil, tracker).Submit(context.Background(), inlineRequest("audio"))
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("ожидалась ErrDispatch, получено %v", err)
	}
	if res == nil {
		t.Fatal("handle должен возвращаться вместе с ошибкой dispatch")
	}
	if len(f.submitter.jobs) != 0 {
		t.Errorf("сервис извлечения вызван %d раз, ожидалось 0", len(f.submitter.jobs))
	}

	if f.finished == nil || f.finished.Status != model.StatusFailed {
		t.Fatalf("Meeting должна быть переведена в failed, получено %+v", f.finished)
	}
	if f.finished.Error == nil || !strings.Contains(*f.finished.Error, "connection reset by peer") {
		t.Errorf("ошибка dispatch должна сохраняться, получено %v", f.finished.Error)
	}

	sess, ok := tracker.Get("user-1", res.Handle.MeetingID)
	if !ok || !sess.Done() {
		t.Fatal("ожидалась завершённая сессия")
	}
	if sess.Outcome.Kind != poller.KindDispatchFailed || sess.Outcome.Cause != model.CauseGeneric {
		t.Errorf("outcome = %+v", sess.Outcome)
	}
	select {
	case <-sp.calls:
		t.Error("опрос не должен запускаться после ошибки dispatch")
	default:
	}
}

func TestDispatch_CancelledContextFailsMeeting(t *testing.T) {
	f := newIntakeFixture()
	loadRecording := f.repos.recordings.getByIDFn
	f.repos.recordings.getByIDFn = func(ctx context.Context, ownerID, id string) (*model.Recording, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return loadRecording(ctx, ownerID, id)
	}
	svc := f.service(nil, nil)

	handle, err := svc.Intake(context.Background(), inlineRequest("audio"))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = svc.Dispatch(ctx, *handle)
	if !errors.Is(err, ErrDispatch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась ErrDispatch с context.Canceled, получено %v", err)
	}
	if f.claims != 0 {
		t.Errorf("claims = %d, ожидалось 0", f.claims)
	}
	if f.finished == nil || f.finished.Status != model.StatusFailed {
		t.Errorf("Meeting должна быть переведена в failed, получено %+v", f.finished)
	}
}

func TestDispatch_DuplicateLeavesMeetingUntouched(t *testing.T) {
	f := newIntakeFixture()
	svc := f.service(nil, nil)

	handle, _ := svc.Intake(context.Background(), inlineRequest("audio"))
	f.claims = 1

	err := svc.Dispatch(context.Background(), *handle)
	if !errors.Is(err, ErrAlreadyDispatched) || errors.Is(err, ErrDispatch) {
		t.Fatalf("ожидалась только ErrAlreadyDispatched, получено %v", err)
	}
	if f.finished != nil {
		t.Errorf("повторный dispatch не должен завершать Meeting: %+v", f.finished)
	}
}
