package model

// Stage — стадия обработки для отображения пользователю.
// Не хранится: вычисляется из прошедшего времени и персистентного статуса.
type Stage string

const (
	StageUploading    Stage = "uploading"
	StageTranscribing Stage = "transcribing"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// ProcessingProgress — значение, передаваемое в progress callback.
// Существует только в пределах одного цикла опроса.
type ProcessingProgress struct {
	Stage            Stage  `json:"stage"`
	Progress         int    `json:"progress"`
	ElapsedSeconds   int    `json:"elapsed_seconds"`
	RemainingSeconds int    `json:"estimated_remaining_seconds"`
	Message          string `json:"message"`
}

// ProgressFunc — callback для отображения прогресса.
type ProgressFunc func(ProcessingProgress)
