package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const resultRetention = 24 * time.Hour

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueGenerateDerivatives schedules one derivative task. The job id is
// used as the asynq task id so a job is never enqueued twice.
func (c *Client) EnqueueGenerateDerivatives(ctx context.Context, payload GenerateDerivativesPayload) (*asynq.TaskInfo, error) {
	task, err := NewGenerateDerivativesTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

// EnqueueTransformFile schedules a single-file transform. The task result
// (a domain.FileResult) is kept for resultRetention after completion.
func (c *Client) EnqueueTransformFile(ctx context.Context, payload TransformFilePayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformFileTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Retention(resultRetention),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
