package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeGenerateDerivatives = "derivatives:generate"

type GenerateDerivativesPayload struct {
	JobID       string                   `json:"job_id"`
	Request     domain.DerivativeRequest `json:"request"`
	RequestedAt time.Time                `json:"requested_at"`
}

func NewGenerateDerivativesTask(payload GenerateDerivativesPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal derivatives payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateDerivatives, body), nil
}

func ParseGenerateDerivativesPayload(task *asynq.Task) (GenerateDerivativesPayload, error) {
	var payload GenerateDerivativesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GenerateDerivativesPayload{}, fmt.Errorf("unmarshal derivatives payload: %w", err)
	}
	if payload.JobID == "" {
		return GenerateDerivativesPayload{}, fmt.Errorf("derivatives payload missing job_id")
	}
	return payload, nil
}

const TypeTransformFile = "derivatives:transform"

type TransformFilePayload struct {
	JobID       string             `json:"job_id"`
	Request     domain.FileRequest `json:"request"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewTransformFileTask(payload TransformFilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformFile, body), nil
}

func ParseTransformFilePayload(task *asynq.Task) (TransformFilePayload, error) {
	var payload TransformFilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformFilePayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if payload.JobID == "" {
		return TransformFilePayload{}, fmt.Errorf("transform payload missing job_id")
	}
	return payload, nil
}
