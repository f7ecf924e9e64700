package domain

import "time"

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"
)

type Job struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Status    string            `json:"status"`
	Request   DerivativeRequest `json:"request"`
	Result    *TaskResult       `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StatusForResult maps a finished task onto a job status.
func StatusForResult(result TaskResult) string {
	if result.Complete() {
		return JobStatusSucceeded
	}
	for _, bag := range result.Results {
		if bag.Succeeded() > 0 {
			return JobStatusPartial
		}
	}
	return JobStatusFailed
}
