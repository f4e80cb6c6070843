package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/poller"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpload_Multipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "standup.m4a")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/recordings" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("неожиданный запрос: %s, auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("title") != "Standup" || r.FormValue("participants") != "alice,bob" || r.FormValue("duration_seconds") != "90" {
			t.Errorf("поля формы: %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "standup.m4a" || string(data) != "audio-bytes" {
			t.Errorf("файл %s = %q", header.Filename, data)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"meeting_id":"m-1","recording_id":"r-1","estimated_total_seconds":45,
			"started_at":"2026-10-16T10:00:00Z","progress":{"stage":"uploading","progress":5}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second, testLogger())
	sub, err := c.Upload(context.Background(), UploadRequest{
		FilePath:        path,
		Title:           "Standup",
		Participants:    []string{"alice", "bob"},
		DurationSeconds: 90,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	h := sub.Handle()
	if h.MeetingID != "m-1" || h.EstimatedTotal != 45*time.Second || h.StartedAt.IsZero() {
		t.Errorf("JobHandle = %+v", h)
	}
	if sub.Progress.Stage != model.StageUploading {
		t.Errorf("stage = %s", sub.Progress.Stage)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	c := New("http://127.0.0.1:1", "", time.Second, testLogger())
	if _, err := c.Upload(context.Background(), UploadRequest{FilePath: "/nonexistent/a.m4a"}); err == nil {
		t.Fatal("ожидалась ошибка для отсутствующего файла")
	}
}

func TestAPIError_Decoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"REVIEW_PENDING","message":"требуется проверка"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, testLogger())
	_, err := c.UpdateStatus(context.Background(), "a-1", model.ActionCompleted, "", false)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("ожидался *APIError, получено %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "REVIEW_PENDING" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if IsNotFound(err) {
		t.Error("409 не должен считаться 404")
	}
}

func TestConfirm_SendsEditsAndNote(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"a-1","validation_score":100,"extraction_method":"manual"}`))
	}))
	defer srv.Close()

	assignee := "bob"
	c := New(srv.URL, "", time.Second, testLogger())
	a, err := c.Confirm(context.Background(), "a-1", &model.ActionEdits{Assignee: &assignee}, "ok")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if a.ValidationScore != 100 {
		t.Errorf("validation_score = %d", a.ValidationScore)
	}
	if string(got["edits"]) != `{"assignee":"bob"}` || string(got["note"]) != `"ok"` {
		t.Errorf("тело запроса = %v", got)
	}
}

func TestSnapshot_DrivesPoller(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/meetings/m-1/status" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"meeting_id":"m-1","status":"pending","has_transcript":false,"actions_count":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"meeting_id":"m-1","status":"completed","has_transcript":true,"actions_count":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, testLogger())
	p := poller.New(c, poller.Options{
		Interval:    time.Millisecond,
		MaxAttempts: 10,
		Estimator:   progress.New(0.5, time.Minute),
		Logger:      testLogger(),
	})

	var last model.ProcessingProgress
	out := p.Wait(context.Background(), model.JobHandle{MeetingID: "m-1", StartedAt: time.Now()}, func(pp model.ProcessingProgress) {
		last = pp
	})

	if out.Kind != poller.KindCompleted || out.ActionsCount != 2 || out.Attempts != 3 {
		t.Errorf("Outcome = %+v", out)
	}
	if last.Stage != model.StageComplete || last.Progress != 100 {
		t.Errorf("последний прогресс = %+v", last)
	}
}
