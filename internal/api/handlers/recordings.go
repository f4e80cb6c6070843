package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/smartact/internal/api/errors"
	"github.com/bigkaa/smartact/internal/service"
)

// multipartMemory — часть multipart-формы, удерживаемая в памяти.
const multipartMemory = 32 << 20

// recordingJSONRequest — тело запроса при передаче аудио по ссылке.
type recordingJSONRequest struct {
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Participants    []string `json:"participants"`
	Context         *string  `json:"context"`
	DurationSeconds int      `json:"duration_seconds"`
	ContentType     string   `json:"content_type"`
	StoragePath     string   `json:"storage_path"`
}

// SubmitRecording — POST /api/v1/recordings.
// multipart/form-data: file + title, type, participants, context, duration_seconds.
// application/json: storage_path + те же метаданные.
// 202 — задание принято и отправлено; 502 — сервис извлечения его не принял.
func (h *APIHandler) SubmitRecording(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := owner(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var req service.IntakeRequest
	switch mediaType {
	case "multipart/form-data":
		if h.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize+multipartMemory/32)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierrors.PayloadTooLarge(w, "Размер записи превышает допустимый")
				return
			}
			apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			apierrors.ValidationError(w, "Поле file обязательно")
			return
		}
		defer file.Close()

		duration := 0
		if v := r.FormValue("duration_seconds"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				apierrors.ValidationError(w, "duration_seconds должен быть целым числом")
				return
			}
			duration = n
		}
		var meetingCtx *string
		if v := r.FormValue("context"); v != "" {
			meetingCtx = &v
		}

		req = service.IntakeRequest{
			Title:           r.FormValue("title"),
			Type:            r.FormValue("type"),
			Participants:    splitParticipants(r.MultipartForm.Value["participants"]),
			Context:         meetingCtx,
			DurationSeconds: duration,
			Audio:           file,
			Filename:        header.Filename,
			ContentType:     header.Header.Get("Content-Type"),
		}

	case "application/json":
		var body recordingJSONRequest
		if !decodeJSON(w, r, &body, false) {
			return
		}
		req = service.IntakeRequest{
			Title:           body.Title,
			Type:            body.Type,
			Participants:    body.Participants,
			Context:         body.Context,
			DurationSeconds: body.DurationSeconds,
			ContentType:     body.ContentType,
			StoragePath:     body.StoragePath,
		}
		if strings.TrimSpace(body.StoragePath) == "" {
			apierrors.ValidationError(w, "storage_path обязателен для application/json")
			return
		}

	default:
		apierrors.ValidationError(w, "Content-Type должен быть multipart/form-data или application/json")
		return
	}

	req.OwnerID = ownerID
	res, err := h.Recordings.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSubmitResponse(res))
}

// splitParticipants принимает повторяющееся поле и значения через запятую.
func splitParticipants(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
