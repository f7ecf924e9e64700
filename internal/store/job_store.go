package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imageq/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SaveResult records the final status, task result and error message.
	SaveResult(ctx context.Context, id, status string, result *domain.TaskResult, errMsg string) (domain.Job, error)
}
