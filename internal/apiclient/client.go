// Пакет apiclient — HTTP-клиент API pipeline-module для CLI smartact.
// Реализует poller.StatusSource поверх GET /api/v1/meetings/{id}/status,
// поэтому CLI опрашивает задание тем же CompletionPoller, что и сервис.
package apiclient

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
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// maxErrorBody — сколько байт тела ответа читается при ошибке.
const maxErrorBody = 4096

// APIError — ответ сервиса вне 2xx в формате {"error":{"code","message"}}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("сервис вернул статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound возвращает true, если err — APIError со статусом 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Submission — ответ на загрузку записи.
type Submission struct {
	MeetingID             string                   `json:"meeting_id"`
	RecordingID           string                   `json:"recording_id"`
	EstimatedTotalSeconds int                      `json:"estimated_total_seconds"`
	StartedAt             time.Time                `json:"started_at"`
	Progress              model.ProcessingProgress `json:"progress"`
}

// Handle возвращает JobHandle для CompletionPoller.
func (s *Submission) Handle() model.JobHandle {
	return model.JobHandle{
		MeetingID:      s.MeetingID,
		RecordingID:    s.RecordingID,
		EstimatedTotal: time.Duration(s.EstimatedTotalSeconds) * time.Second,
		StartedAt:      s.StartedAt,
	}
}

// Action — действие в ответах API.
type Action struct {
	ID               string   `json:"id"`
	MeetingID        string   `json:"meeting_id"`
	ActionText       string   `json:"action_text"`
	Assignee         *string  `json:"assignee,omitempty"`
	DueContext       *string  `json:"due_context,omitempty"`
	Priority         int      `json:"priority"`
	Category         string   `json:"category"`
	ValidationScore  int      `json:"validation_score"`
	ValidationIssues []string `json:"validation_issues"`
	ConfidenceScore  float64  `json:"confidence_score"`
	RequiresReview   bool     `json:"requires_review"`
	Status           string   `json:"status"`
	ExtractionMethod string   `json:"extraction_method"`
}

// ActionList — страница действий.
type ActionList struct {
	Items  []Action `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// BulkFailure — действие, которое не удалось подтвердить.
type BulkFailure struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

// BulkResult — итог массового подтверждения.
type BulkResult struct {
	Confirmed []string      `json:"confirmed"`
	Failed    []BulkFailure `json:"failed"`
}

type statusResponse struct {
	Status        model.ProcessingStatus `json:"status"`
	Error         *string                `json:"error"`
	ErrorCode     *model.FailureCause    `json:"error_code"`
	HasTranscript bool                   `json:"has_transcript"`
	ActionsCount  int                    `json:"actions_count"`
}

// UploadRequest — загрузка локального аудиофайла.
type UploadRequest struct {
	FilePath        string
	Title           string
	Type            string
	Participants    []string
	Context         string
	DurationSeconds int
}

// Client — HTTP-клиент API pipeline-module.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. timeout ограничивает обычные запросы;
// загрузка файла выполняется без общего таймаута, только по ctx.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "api_client")),
	}
}

// Upload отправляет файл multipart-запросом. Тело формируется потоково.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*Submission, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("открытие файла записи: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, f, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/recordings", pr)
	if err != nil {
		return nil, fmt.Errorf("создание запроса загрузки: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	uploader := &http.Client{Transport: c.httpClient.Transport}
	var sub Submission
	if err := c.send(uploader, httpReq, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}
	c.logger.Debug("Запись загружена",
		slog.String("meeting_id", sub.MeetingID),
		slog.String("file", req.FilePath),
	)
	return &sub, nil
}

func writeUploadForm(mw *multipart.Writer, f io.Reader, req UploadRequest) error {
	fields := map[string]string{
		"title":   req.Title,
		"type":    req.Type,
		"context": req.Context,
	}
	if len(req.Participants) > 0 {
		fields["participants"] = strings.Join(req.Participants, ",")
	}
	if req.DurationSeconds > 0 {
		fields["duration_seconds"] = strconv.Itoa(req.DurationSeconds)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

// Snapshot реализует poller.StatusSource. ownerID не используется:
// владельца определяет токен.
func (c *Client) Snapshot(ctx context.Context, _, meetingID string) (model.MeetingSnapshot, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/meetings/"+url.PathEscape(meetingID)+"/status", nil, http.StatusOK, &resp); err != nil {
		return model.MeetingSnapshot{}, err
	}
	return model.MeetingSnapshot{
		Status:        resp.Status,
		Error:         resp.Error,
		ErrorCode:     resp.ErrorCode,
		HasTranscript: resp.HasTranscript,
		ActionsCount:  resp.ActionsCount,
	}, nil
}

// MeetingActions возвращает действия Meeting.
func (c *Client) MeetingActions(ctx context.Context, meetingID string, limit, offset int) (*ActionList, error) {
	path := fmt.Sprintf("/api/v1/meetings/%s/actions?limit=%d&offset=%d", url.PathEscape(meetingID), limit, offset)
	var list ActionList
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ReviewQueue возвращает очередь проверки.
func (c *Client) ReviewQueue(ctx context.Context, limit, offset int) (*ActionList, error) {
	var list ActionList
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/review?limit=%d&offset=%d", limit, offset), nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Confirm подтверждает действие. edits nil — без изменений.
func (c *Client) Confirm(ctx context.Context, actionID string, edits *model.ActionEdits, note string) (*Action, error) {
	body := map[string]any{}
	if !edits.IsEmpty() {
		body["edits"] = edits
	}
	if note != "" {
		body["note"] = note
	}
	var a Action
	if err := c.do(ctx, http.MethodPost, "/api/v1/review/"+url.PathEscape(actionID)+"/confirm", body, http.StatusOK, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Reject отклоняет действие.
func (c *Client) Reject(ctx context.Context, actionID, note string) error {
	body := map[string]any{}
	if note != "" {
		body["note"] = note
	}
	return c.do(ctx, http.MethodPost, "/api/v1/review/"+url.PathEscape(actionID)+"/reject", body, http.StatusNoContent, nil)
}

// ConfirmAll подтверждает всю очередь проверки.
func (c *Client) ConfirmAll(ctx context.Context) (*BulkResult, error) {
	var res BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/review/confirm-all", nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateStatus меняет операционный статус действия.
func (c *Client) UpdateStatus(ctx context.Context, actionID string, status model.ActionStatus, note string, notify bool) (*Action, error) {
	body := map[string]any{"status": status, "notify_watchers": notify}
	if note != "" {
		body["note"] = note
	}
	var a Action
	if err := c.do(ctx, http.MethodPatch, "/api/v1/actions/"+url.PathEscape(actionID)+"/status", body, http.StatusOK, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// do выполняет JSON-запрос. in nil — без тела; out nil — ответ не читается.
func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("кодирование запроса: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(c.httpClient, req, want, out)
}

func (c *Client) send(hc *http.Client, req *http.Request, want int, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req) //nolint:gosec // URL из конфигурации CLI
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
