package model

import "time"

// JobHandle — явная ссылка на задание, возвращаемая Intake.
// Передаётся Dispatcher, Completion Poller и ProgressTracker.
type JobHandle struct {
	MeetingID      string        `json:"meeting_id"`
	RecordingID    string        `json:"recording_id"`
	OwnerID        string        `json:"owner_id"`
	EstimatedTotal time.Duration `json:"-"`
	StartedAt      time.Time     `json:"started_at"`
}

// Elapsed возвращает время, прошедшее с начала задания.
func (h JobHandle) Elapsed(now time.Time) time.Duration {
	d := now.Sub(h.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
