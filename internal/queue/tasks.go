package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeConvertTensor = "tensor:convert"

type ConvertPayload struct {
	JobID       string             `json:"job_id"`
	SourceType  string             `json:"source_type"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	ObjectKey   string             `json:"object_key"`
	OutputKey   string             `json:"output_key,omitempty"`
	Convert     domain.ConvertSpec `json:"convert"`
	RequestedAt time.Time          `json:"requested_at"`
}

func PayloadFromJob(job domain.Job, requestedAt time.Time) ConvertPayload {
	return ConvertPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		OutputKey:   job.OutputKey,
		Convert:     job.Convert,
		RequestedAt: requestedAt,
	}
}

func NewConvertTask(payload ConvertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertTensor, body), nil
}

func ParseConvertPayload(task *asynq.Task) (ConvertPayload, error) {
	var payload ConvertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	if payload.JobID == "" {
		return ConvertPayload{}, fmt.Errorf("convert payload has no job_id")
	}
	return payload, nil
}
