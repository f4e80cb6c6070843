package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/smartact/internal/api/middleware"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/service"
)

const (
	testMeetingID = "7f1c2d4e-1111-4000-8000-000000000001"
	testActionID  = "7f1c2d4e-2222-4000-8000-000000000002"
)

// --- Моки сервисов ---

type mockSubmitter struct {
	got      service.IntakeRequest
	audio    string
	submitFn func(req service.IntakeRequest) (*service.SubmitResult, error)
}

func (m *mockSubmitter) Submit(_ context.Context, req service.IntakeRequest) (*service.SubmitResult, error) {
	m.got = req
	if req.Audio != nil {
		b, _ := io.ReadAll(req.Audio)
		m.audio = string(b)
	}
	if m.submitFn != nil {
		return m.submitFn(req)
	}
	return &service.SubmitResult{
		Handle:   model.JobHandle{MeetingID: testMeetingID, RecordingID: "r-1", OwnerID: req.OwnerID, EstimatedTotal: 60 * time.Second},
		Progress: model.ProcessingProgress{Stage: model.StageUploading, Progress: 5},
	}, nil
}

type mockMeetings struct {
	snapshotFn func(ownerID, id string) (model.MeetingSnapshot, error)
	progressFn func(ownerID, id string) (*service.ProgressView, error)
}

func (m *mockMeetings) Get(_ context.Context, ownerID, id string) (*model.Meeting, error) {
	return &model.Meeting{ID: id, OwnerID: ownerID, Title: "t", ProcessingStatus: model.StatusPending, IsActive: true}, nil
}

func (m *mockMeetings) List(context.Context, string, repository.MeetingListFilters, int, int) ([]*model.Meeting, error) {
	return []*model.Meeting{}, nil
}

func (m *mockMeetings) Snapshot(_ context.Context, ownerID, id string) (model.MeetingSnapshot, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ownerID, id)
	}
	return model.MeetingSnapshot{}, service.ErrNotFound
}

func (m *mockMeetings) Progress(_ context.Context, ownerID, id string) (*service.ProgressView, error) {
	if m.progressFn != nil {
		return m.progressFn(ownerID, id)
	}
	return nil, service.ErrNotFound
}

type mockActions struct {
	updateFn func(upd service.StatusUpdate) (*model.ExtractedAction, error)
}

func (m *mockActions) Get(_ context.Context, _, id string) (*model.ExtractedAction, error) {
	return &model.ExtractedAction{ID: id, Status: model.ActionNotStarted}, nil
}

func (m *mockActions) ListByMeeting(context.Context, string, string, int, int) ([]*model.ExtractedAction, int, error) {
	return []*model.ExtractedAction{}, 0, nil
}

func (m *mockActions) UpdateStatus(_ context.Context, _, id string, upd service.StatusUpdate) (*model.ExtractedAction, error) {
	if m.updateFn != nil {
		return m.updateFn(upd)
	}
	return &model.ExtractedAction{ID: id, Status: upd.Status}, nil
}

type mockReview struct {
	confirmEdits *model.ActionEdits
	rejectErr    error
	bulk         *service.BulkResult
}

func (m *mockReview) List(context.Context, string, int, int) ([]*model.ExtractedAction, int, error) {
	return []*model.ExtractedAction{{ID: testActionID, RequiresReview: true, ValidationScore: 70}}, 1, nil
}

func (m *mockReview) Confirm(_ context.Context, _, id string, edits *model.ActionEdits, _ *string) (*model.ExtractedAction, error) {
	m.confirmEdits = edits
	return &model.ExtractedAction{ID: id, ValidationScore: 100, ExtractionMethod: model.MethodManual}, nil
}

func (m *mockReview) Reject(context.Context, string, string, *string) error {
	return m.rejectErr
}

func (m *mockReview) ConfirmAll(context.Context, string) (*service.BulkResult, error) {
	return m.bulk, nil
}

func (m *mockReview) History(context.Context, string, string) ([]*model.ActionConfirmation, error) {
	return []*model.ActionConfirmation{}, nil
}

type mockResults struct {
	err error
	got service.ResultRequest
}

func (m *mockResults) CompleteMeeting(_ context.Context, id string, req service.ResultRequest) (*service.ResultSummary, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &service.ResultSummary{
		Meeting:      &model.Meeting{ID: id, ProcessingStatus: req.Status},
		ActionsCount: len(req.Actions),
	}, nil
}

type staticChecker struct{ status string }

func (c staticChecker) CheckReady() (string, string) { return c.status, "" }

type staticDeps map[string]bool

func (d staticDeps) Health() map[string]bool { return d }

// --- Окружение ---

type testEnv struct {
	router    http.Handler
	submitter *mockSubmitter
	meetings  *mockMeetings
	actions   *mockActions
	review    *mockReview
	results   *mockResults
}

// fakeAuth подставляет Identity из заголовков X-Test-Sub и X-Test-Scope.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := &middleware.Identity{Subject: r.Header.Get("X-Test-Sub"), SubjectType: middleware.SubjectTypeUser}
		if sc := r.Header.Get("X-Test-Scope"); sc != "" {
			id.Scopes = []string{sc}
			id.SubjectType = middleware.SubjectTypeServiceAccount
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		submitter: &mockSubmitter{},
		meetings:  &mockMeetings{},
		actions:   &mockActions{},
		review:    &mockReview{},
		results:   &mockResults{},
	}
	h := NewAPIHandler(Deps{
		Health:        NewHealthHandler(staticChecker{status: "ok"}, nil),
		Recordings:    env.submitter,
		Meetings:      env.meetings,
		Actions:       env.actions,
		Review:        env.review,
		Results:       env.results,
		MaxUploadSize: 1 << 20,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := chi.NewRouter()
	h.Routes(r, fakeAuth)
	env.router = r
	return env
}

func (e *testEnv) do(method, path, contentType string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Test-Sub", "user-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v", err)
	}
	return body.Error.Code
}

// --- Тесты ---

func TestSubmitRecording_Multipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "Ретро")
	_ = mw.WriteField("participants", "alice, bob")
	_ = mw.WriteField("duration_seconds", "120")
	fw, _ := mw.CreateFormFile("file", "retro.m4a")
	_, _ = fw.Write([]byte("audio-data"))
	_ = mw.Close()

	rec := env.do(http.MethodPost, "/api/v1/recordings", mw.FormDataContentType(), &buf)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидался 202, получен %d: %s", rec.Code, rec.Body)
	}
	got := env.submitter.got
	if got.OwnerID != "user-1" || got.Title != "Ретро" || got.DurationSeconds != 120 {
		t.Errorf("запрос Intake = %+v", got)
	}
	if len(got.Participants) != 2 || env.submitter.audio != "audio-data" {
		t.Errorf("participants = %v, audio = %q", got.Participants, env.submitter.audio)
	}

	var resp submitResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.MeetingID != testMeetingID || resp.EstimatedTotalSeconds != 60 || resp.Progress.Stage != model.StageUploading {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestSubmitRecording_StoragePath(t *testing.T) {
	env := newTestEnv(t)
	body := `{"title":"1:1","storage_path":"user-1/2026/10/a.m4a","duration_seconds":30}`

	rec := env.do(http.MethodPost, "/api/v1/recordings", "application/json", strings.NewReader(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидался 202, получен %d: %s", rec.Code, rec.Body)
	}
	if env.submitter.got.StoragePath != "user-1/2026/10/a.m4a" || env.submitter.got.Audio != nil {
		t.Errorf("запрос Intake = %+v", env.submitter.got)
	}
}

func TestSubmitRecording_BadContentType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/recordings", "text/plain", strings.NewReader("x"))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Fatalf("ожидался 400 VALIDATION_ERROR, получен %d", rec.Code)
	}
}

func TestSubmitRecording_DispatchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.submitter.submitFn = func(service.IntakeRequest) (*service.SubmitResult, error) {
		return &service.SubmitResult{}, fmt.Errorf("%w: %w", service.ErrDispatch, errors.New("connection refused"))
	}

	rec := env.do(http.MethodPost, "/api/v1/recordings", "application/json",
		strings.NewReader(`{"title":"x","storage_path":"a.m4a"}`))
	if rec.Code != http.StatusBadGateway || errorCode(t, rec) != "EXTRACTOR_UNAVAILABLE" {
		t.Fatalf("ожидался 502 EXTRACTOR_UNAVAILABLE, получен %d", rec.Code)
	}
}

func TestGetMeetingStatus(t *testing.T) {
	env := newTestEnv(t)
	env.meetings.snapshotFn = func(ownerID, id string) (model.MeetingSnapshot, error) {
		if ownerID != "user-1" {
			return model.MeetingSnapshot{}, service.ErrNotFound
		}
		code := model.CauseQuotaExceeded
		return model.MeetingSnapshot{Status: model.StatusFailed, ErrorCode: &code, HasTranscript: true, ActionsCount: 0}, nil
	}

	rec := env.do(http.MethodGet, "/api/v1/meetings/"+testMeetingID+"/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var resp statusResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "failed" || !resp.HasTranscript || resp.ErrorCode == nil || *resp.ErrorCode != model.CauseQuotaExceeded {
		t.Errorf("ответ = %+v", resp)
	}

	if rec := env.do(http.MethodGet, "/api/v1/meetings/not-a-uuid/status", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("невалидный UUID: ожидался 400, получен %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/meetings/"+testMeetingID+"/status", "", nil, "X-Test-Sub", "user-2"); rec.Code != http.StatusNotFound {
		t.Errorf("чужая Meeting: ожидался 404, получен %d", rec.Code)
	}
}

func TestGetMeetingProgress(t *testing.T) {
	env := newTestEnv(t)
	env.meetings.progressFn = func(_, id string) (*service.ProgressView, error) {
		return &service.ProgressView{
			MeetingID: id,
			Progress:  model.ProcessingProgress{Stage: model.StageComplete, Progress: 100, Message: "Found 2 SMART ACTs!"},
			Outcome:   &poller.Outcome{Kind: poller.KindCompleted, Success: true, ActionsCount: 2},
			Live:      true,
		}, nil
	}

	rec := env.do(http.MethodGet, "/api/v1/meetings/"+testMeetingID+"/progress", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var resp map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	progress := resp["progress"].(map[string]any)
	if progress["stage"] != "complete" || progress["progress"].(float64) != 100 {
		t.Errorf("progress = %v", progress)
	}
	if _, ok := progress["estimated_remaining_seconds"]; !ok {
		t.Error("ожидалось поле estimated_remaining_seconds")
	}
	if resp["outcome"].(map[string]any)["kind"] != "completed" {
		t.Errorf("outcome = %v", resp["outcome"])
	}
}

func TestConfirmAction_WithEdits(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/review/"+testActionID+"/confirm", "application/json",
		strings.NewReader(`{"edits":{"assignee":"bob"},"note":"ok"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body)
	}
	if env.review.confirmEdits == nil || *env.review.confirmEdits.Assignee != "bob" {
		t.Errorf("edits = %+v", env.review.confirmEdits)
	}
}

func TestConfirmAction_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/review/"+testActionID+"/confirm", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body)
	}
	if env.review.confirmEdits != nil {
		t.Error("пустое тело — подтверждение без изменений")
	}
}

func TestRejectAction(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodPost, "/api/v1/review/"+testActionID+"/reject", "application/json", strings.NewReader(`{"note":"дубль"}`)); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидался 204, получен %d", rec.Code)
	}

	env.review.rejectErr = fmt.Errorf("%w: действие", service.ErrNotFound)
	if rec := env.do(http.MethodPost, "/api/v1/review/"+testActionID+"/reject", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался 404, получен %d", rec.Code)
	}
}

func TestConfirmAll_ReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.review.bulk = &service.BulkResult{
		Confirmed: []string{"a-1"},
		Failed:    []service.BulkFailure{{ActionID: "a-2", Err: errors.New("boom")}},
	}

	rec := env.do(http.MethodPost, "/api/v1/review/confirm-all", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var resp bulkResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Confirmed) != 1 || len(resp.Failed) != 1 || resp.Failed[0].Error != "boom" {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestUpdateActionStatus_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		api  string
	}{
		{"review pending", service.ErrReviewPending, http.StatusConflict, "REVIEW_PENDING"},
		{"invalid transition", service.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{"concurrent", service.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.actions.updateFn = func(service.StatusUpdate) (*model.ExtractedAction, error) { return nil, tt.err }
			rec := env.do(http.MethodPatch, "/api/v1/actions/"+testActionID+"/status", "application/json",
				strings.NewReader(`{"status":"completed","notify_watchers":true}`))
			if rec.Code != tt.code || errorCode(t, rec) != tt.api {
				t.Errorf("ожидался %d %s, получен %d", tt.code, tt.api, rec.Code)
			}
		})
	}
}

func TestUpdateActionStatus_PassesFlags(t *testing.T) {
	env := newTestEnv(t)
	var got service.StatusUpdate
	env.actions.updateFn = func(upd service.StatusUpdate) (*model.ExtractedAction, error) {
		got = upd
		return &model.ExtractedAction{ID: testActionID, Status: upd.Status}, nil
	}

	rec := env.do(http.MethodPatch, "/api/v1/actions/"+testActionID+"/status", "application/json",
		strings.NewReader(`{"status":"completed","note":"done","notify_watchers":true}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if got.Status != model.ActionCompleted || !got.NotifyWatchers || got.Note == nil || *got.Note != "done" {
		t.Errorf("StatusUpdate = %+v", got)
	}
}

func TestSubmitResult_Scope(t *testing.T) {
	env := newTestEnv(t)
	body := `{"status":"completed","transcript":"hi","actions":[{"action_text":"x","validation_score":100,"confidence_score":0.9}]}`
	path := "/internal/v1/meetings/" + testMeetingID + "/result"

	if rec := env.do(http.MethodPost, path, "application/json", strings.NewReader(body)); rec.Code != http.StatusForbidden {
		t.Fatalf("без scope ожидался 403, получен %d", rec.Code)
	}

	rec := env.do(http.MethodPost, path, "application/json", strings.NewReader(body), "X-Test-Scope", middleware.ScopeCallback)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body)
	}
	if len(env.results.got.Actions) != 1 || env.results.got.Status != model.StatusCompleted {
		t.Errorf("ResultRequest = %+v", env.results.got)
	}

	env.results.err = fmt.Errorf("%w: Meeting", service.ErrAlreadyTerminal)
	rec = env.do(http.MethodPost, path, "application/json", strings.NewReader(body), "X-Test-Scope", middleware.ScopeCallback)
	if rec.Code != http.StatusConflict {
		t.Fatalf("повторный callback: ожидался 409, получен %d", rec.Code)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name   string
		pg     string
		deps   DependencyReporter
		code   int
		status string
	}{
		{"ok", "ok", staticDeps{"extractor:localhost:9000": true}, http.StatusOK, "ok"},
		{"extractor down", "ok", staticDeps{"extractor:localhost:9000": false}, http.StatusOK, "degraded"},
		{"db down", "fail", nil, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(staticChecker{status: tt.pg}, tt.deps)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.code {
				t.Fatalf("ожидался %d, получен %d", tt.code, rec.Code)
			}
			var resp healthReadyResponse
			_ = json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Status != tt.status {
				t.Errorf("status = %q, ожидался %q", resp.Status, tt.status)
			}
		})
	}
}
