// Пакет notifier — граница уведомления наблюдателей о завершении действия.
// Доставка best-effort: вызывающий код логирует ошибку и продолжает работу.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CompletionEvent — тело уведомления о завершении действия.
type CompletionEvent struct {
	ActionID         string    `json:"action_id"`
	UserID           string    `json:"user_id"`
	ActionTitle      string    `json:"action_title"`
	CompletionStatus string    `json:"completion_status"`
	Note             *string   `json:"note,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Notifier — отправка уведомлений наблюдателям.
type Notifier interface {
	NotifyCompletion(ctx context.Context, ev CompletionEvent) error
}

// Noop — Notifier, который ничего не отправляет (PM_NOTIFY_URL не задан).
type Noop struct{}

// NotifyCompletion ничего не делает.
func (Noop) NotifyCompletion(context.Context, CompletionEvent) error { return nil }

// Webhook — Notifier, отправляющий JSON POST на заданный URL.
type Webhook struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewWebhook создаёт webhook-notifier.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// NotifyCompletion отправляет событие. Любой ответ вне 2xx считается ошибкой.
func (w *Webhook) NotifyCompletion(ctx context.Context, ev CompletionEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("кодирование уведомления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса уведомления: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return fmt.Errorf("отправка уведомления: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	w.logger.Debug("Уведомление доставлено",
		slog.String("action_id", ev.ActionID),
		slog.String("user_id", ev.UserID),
	)
	return nil
}
