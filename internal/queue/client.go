package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	convertMaxRetry = 5
	convertTimeout  = 2 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueConvert schedules one conversion. The job id doubles as the task
// id, so starting the same job twice is rejected by asynq.
func (c *Client) EnqueueConvert(ctx context.Context, payload ConvertPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(convertMaxRetry),
		asynq.Timeout(convertTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
