// handler.go — HTTP API pipeline-module.
// Обработчики делегируют в сервисный слой и переводят ошибки сервиса
// в единый формат internal/api/errors.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/smartact/internal/api/errors"
	"github.com/bigkaa/smartact/internal/api/middleware"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/service"
)

// Пагинация списков.
const (
	defaultLimit = 50
	maxLimit     = 500
	// maxJSONBody — предел тела JSON-запроса
	maxJSONBody = 1 << 20
)

// RecordingSubmitter — Intake и Dispatch. Реализуется *service.IntakeService.
type RecordingSubmitter interface {
	Submit(ctx context.Context, req service.IntakeRequest) (*service.SubmitResult, error)
}

// MeetingReader — чтение Meeting. Реализуется *service.MeetingService.
type MeetingReader interface {
	Get(ctx context.Context, ownerID, meetingID string) (*model.Meeting, error)
	List(ctx context.Context, ownerID string, filters repository.MeetingListFilters, limit, offset int) ([]*model.Meeting, error)
	Snapshot(ctx context.Context, ownerID, meetingID string) (model.MeetingSnapshot, error)
	Progress(ctx context.Context, ownerID, meetingID string) (*service.ProgressView, error)
}

// ActionManager — действия и их статус. Реализуется *service.ActionService.
type ActionManager interface {
	Get(ctx context.Context, ownerID, actionID string) (*model.ExtractedAction, error)
	ListByMeeting(ctx context.Context, ownerID, meetingID string, limit, offset int) ([]*model.ExtractedAction, int, error)
	UpdateStatus(ctx context.Context, ownerID, actionID string, upd service.StatusUpdate) (*model.ExtractedAction, error)
}

// ReviewManager — очередь проверки. Реализуется *service.ReviewService.
type ReviewManager interface {
	List(ctx context.Context, ownerID string, limit, offset int) ([]*model.ExtractedAction, int, error)
	Confirm(ctx context.Context, ownerID, actionID string, edits *model.ActionEdits, note *string) (*model.ExtractedAction, error)
	Reject(ctx context.Context, ownerID, actionID string, note *string) error
	ConfirmAll(ctx context.Context, ownerID string) (*service.BulkResult, error)
	History(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error)
}

// ResultApplier — callback сервиса извлечения. Реализуется *service.CallbackService.
type ResultApplier interface {
	CompleteMeeting(ctx context.Context, meetingID string, req service.ResultRequest) (*service.ResultSummary, error)
}

// Deps — зависимости APIHandler.
type Deps struct {
	Health     *HealthHandler
	Recordings RecordingSubmitter
	Meetings   MeetingReader
	Actions    ActionManager
	Review     ReviewManager
	Results    ResultApplier
	// MaxUploadSize — предел размера multipart-запроса
	MaxUploadSize int64
	Logger        *slog.Logger
}

// APIHandler — обработчики HTTP API.
type APIHandler struct {
	Deps
	logger *slog.Logger
}

// NewAPIHandler создаёт обработчик.
func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{
		Deps:   d,
		logger: d.Logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты. auth — JWT middleware для /api и /internal.
func (h *APIHandler) Routes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Get("/metrics", h.Health.GetMetrics)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/recordings", h.SubmitRecording)

			r.Get("/meetings", h.ListMeetings)
			r.Route("/meetings/{meeting_id}", func(r chi.Router) {
				r.Get("/", h.GetMeeting)
				r.Get("/status", h.GetMeetingStatus)
				r.Get("/progress", h.GetMeetingProgress)
				r.Get("/actions", h.ListMeetingActions)
			})

			r.Get("/review", h.ListReviewQueue)
			r.Post("/review/confirm-all", h.ConfirmAll)
			r.Post("/review/{action_id}/confirm", h.ConfirmAction)
			r.Post("/review/{action_id}/reject", h.RejectAction)

			r.Get("/actions/{action_id}", h.GetAction)
			r.Patch("/actions/{action_id}/status", h.UpdateActionStatus)
			r.Get("/actions/{action_id}/confirmations", h.ListConfirmations)
		})

		r.With(middleware.RequireScope(middleware.ScopeCallback)).
			Post("/internal/v1/meetings/{meeting_id}/result", h.SubmitResult)
	})
}

// --- Вспомогательные функции ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо, если allowEmpty.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// pagination читает limit и offset из query-параметров.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, "limit должен быть положительным числом")
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "offset должен быть неотрицательным числом")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// pathUUID извлекает UUID из параметра пути.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		apierrors.ValidationError(w, name+" должен быть UUID")
		return "", false
	}
	return id.String(), true
}

// owner возвращает владельца запроса. Пустой владелец означает ошибку маршрутизации.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	o := middleware.OwnerFromContext(r.Context())
	if o == "" {
		apierrors.Unauthorized(w, "Субъект запроса не определён")
		return "", false
	}
	return o, true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, service.ErrReviewPending):
		apierrors.ReviewPending(w, err.Error())
	case errors.Is(err, service.ErrAlreadyDispatched),
		errors.Is(err, service.ErrAlreadyTerminal),
		errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrDispatch):
		apierrors.ExtractorUnavailable(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
