// Пакет extractor — HTTP-клиент сервиса транскрибации и извлечения действий.
// Вызов асинхронный: сервис подтверждает приём задания, а результат
// позже присылает в POST /internal/v1/meetings/{id}/result.
package extractor

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
)

// JobsPath — путь постановки задания.
const JobsPath = "/v1/jobs"

// HealthPath — путь проверки доступности сервиса.
const HealthPath = "/health"

// maxErrorBody — сколько байт тела ответа сохраняется в ошибке.
const maxErrorBody = 4096

// JobMetadata — метаданные Meeting, передаваемые сервису.
type JobMetadata struct {
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
	Context      *string  `json:"context,omitempty"`
	RecordingID  string   `json:"recording_id"`
}

// JobRequest — тело запроса постановки задания.
// Передаётся ровно один из StoragePath и AudioBase64.
type JobRequest struct {
	MeetingID       string      `json:"meeting_id"`
	UserID          string      `json:"user_id"`
	StoragePath     string      `json:"storage_path,omitempty"`
	AudioBase64     string      `json:"audio_base64,omitempty"`
	ContentType     string      `json:"content_type,omitempty"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
	Metadata        JobMetadata `json:"metadata"`
}

// JobAccepted — подтверждение приёма задания.
type JobAccepted struct {
	JobID string `json:"job_id,omitempty"`
}

// RejectedError — сервис отклонил задание синхронно.
type RejectedError struct {
	StatusCode int
	Body       string
	// Code — error_code из тела ответа, если сервис его вернул
	Code model.FailureCause
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("сервис извлечения вернул статус %d: %s", e.StatusCode, e.Body)
}

// Cause возвращает типизированную причину отказа.
func (e *RejectedError) Cause() model.FailureCause {
	if e.Code.Valid() {
		return e.Code
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return model.CauseQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.CauseMisconfigured
	default:
		return model.CauseGeneric
	}
}

// ErrUnavailable — сервис недоступен (сетевая ошибка, таймаут).
var ErrUnavailable = errors.New("сервис извлечения недоступен")

// Client — HTTP-клиент сервиса извлечения.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, token string, timeout time.Duration, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата сервиса извлечения: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат сервиса извлечения добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "extractor_client")),
	}, nil
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12}, nil
}

// BaseURL возвращает базовый URL сервиса.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EncodeInline кодирует аудио для передачи в теле запроса.
func EncodeInline(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// Submit ставит задание в очередь сервиса. Блокируется до подтверждения приёма,
// не до завершения обработки.
func (c *Client) Submit(ctx context.Context, job JobRequest) (*JobAccepted, error) {
	if (job.StoragePath == "") == (job.AudioBase64 == "") {
		return nil, fmt.Errorf("задание %s: требуется ровно один из storage_path и audio_base64", job.MeetingID)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("кодирование задания: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+JobsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		rej := &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		var coded struct {
			ErrorCode string `json:"error_code"`
		}
		if json.Unmarshal(raw, &coded) == nil {
			rej.Code = model.FailureCause(coded.ErrorCode)
		}
		c.logger.Warn("Сервис извлечения отклонил задание",
			slog.String("meeting_id", job.MeetingID),
			slog.Int("status", resp.StatusCode),
		)
		return nil, rej
	}

	accepted := &JobAccepted{}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, accepted); err != nil {
			c.logger.Debug("Ответ сервиса извлечения не JSON, job_id не получен",
				slog.String("meeting_id", job.MeetingID),
			)
		}
	}

	c.logger.Info("Задание принято сервисом извлечения",
		slog.String("meeting_id", job.MeetingID),
		slog.String("job_id", accepted.JobID),
		slog.Duration("duration", time.Since(start)),
	)
	return accepted, nil
}
