// tracker.go — серверные сессии опроса.
// После dispatch для Meeting запускается Completion Poller в отдельной горутине,
// каждый ProcessingProgress сохраняется в LRU-кэше с TTL
// (hashicorp/golang-lru/v2/expirable). Остановка сервера прерывает опрос,
// не затрагивая само задание.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/poller"
)

var (
	pollSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_module_poll_sessions_active",
		Help: "Количество активных серверных сессий опроса.",
	})
	pollOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_poll_outcomes_total",
		Help: "Итоги сессий опроса по видам.",
	}, []string{"outcome"})
	progressLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_module_progress_lookups_total",
		Help: "Обращения к кэшу сессий прогресса (hit/miss).",
	}, []string{"result"})
)

// Session — последнее известное состояние сессии опроса.
type Session struct {
	Handle    model.JobHandle
	Progress  model.ProcessingProgress
	Outcome   *poller.Outcome
	UpdatedAt time.Time
}

// Done возвращает true, если опрос завершён.
func (s Session) Done() bool {
	return s.Outcome != nil
}

// ProgressTracker — реестр серверных сессий опроса.
type ProgressTracker struct {
	poller   poller.Poller
	sessions *expirable.LRU[string, Session]
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewProgressTracker создаёт трекер.
// size — максимальное количество сессий, ttl — время жизни сессии после обновления.
func NewProgressTracker(p poller.Poller, size int, ttl time.Duration, logger *slog.Logger) *ProgressTracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressTracker{
		poller:   p,
		sessions: expirable.NewLRU[string, Session](size, nil, ttl),
		logger:   logger.With(slog.String("component", "progress_tracker")),
		running:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Record сохраняет прогресс без запуска опроса (стадия uploading при Intake).
func (t *ProgressTracker) Record(handle model.JobHandle, p model.ProcessingProgress) {
	t.sessions.Add(handle.MeetingID, Session{Handle: handle, Progress: p, UpdatedAt: t.now()})
}

// Finish фиксирует итог без опроса (ошибка dispatch).
func (t *ProgressTracker) Finish(handle model.JobHandle, p model.ProcessingProgress, out poller.Outcome) {
	pollOutcomesTotal.WithLabelValues(string(out.Kind)).Inc()
	t.sessions.Add(handle.MeetingID, Session{Handle: handle, Progress: p, Outcome: &out, UpdatedAt: t.now()})
}

// Start запускает опрос Meeting в фоне. Повторный вызов для той же Meeting,
// пока опрос идёт, игнорируется. Возвращает false, если опрос уже запущен
// или трекер остановлен.
func (t *ProgressTracker) Start(handle model.JobHandle) bool {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	if _, ok := t.running[handle.MeetingID]; ok {
		t.mu.Unlock()
		return false
	}
	t.running[handle.MeetingID] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	pollSessionsActive.Inc()
	go t.run(handle)
	return true
}

func (t *ProgressTracker) run(handle model.JobHandle) {
	defer func() {
		t.mu.Lock()
		delete(t.running, handle.MeetingID)
		t.mu.Unlock()
		pollSessionsActive.Dec()
		t.wg.Done()
	}()

	var last model.ProcessingProgress
	out := t.poller.Wait(t.ctx, handle, func(p model.ProcessingProgress) {
		last = p
		t.sessions.Add(handle.MeetingID, Session{Handle: handle, Progress: p, UpdatedAt: t.now()})
	})

	pollOutcomesTotal.WithLabelValues(string(out.Kind)).Inc()
	if out.Kind == poller.KindCancelled {
		// Сессия остаётся без итога: задание продолжает обрабатываться
		return
	}

	if out.Kind == poller.KindTimedOut {
		last.Message = out.Message
	}
	t.sessions.Add(handle.MeetingID, Session{Handle: handle, Progress: last, Outcome: &out, UpdatedAt: t.now()})

	t.logger.Info("Сессия опроса завершена",
		slog.String("meeting_id", handle.MeetingID),
		slog.String("outcome", string(out.Kind)),
		slog.Int("attempts", out.Attempts),
	)
}

// Get возвращает сессию Meeting владельца.
func (t *ProgressTracker) Get(ownerID, meetingID string) (Session, bool) {
	s, ok := t.sessions.Get(meetingID)
	if !ok || s.Handle.OwnerID != ownerID {
		progressLookupsTotal.WithLabelValues("miss").Inc()
		return Session{}, false
	}
	progressLookupsTotal.WithLabelValues("hit").Inc()
	return s, true
}

// Running возвращает true, если опрос Meeting выполняется.
func (t *ProgressTracker) Running(meetingID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[meetingID]
	return ok
}

// Stop прерывает все сессии опроса и ждёт завершения горутин.
func (t *ProgressTracker) Stop() {
	t.mu.Lock()
	t.cancel()
	t.mu.Unlock()
	t.wg.Wait()
	t.logger.Info("Сессии опроса остановлены")
}
