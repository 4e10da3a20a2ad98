package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Producer submits document jobs.
type Producer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
}

// NewProducer connects to the broker at redisURL.
func NewProducer(redisURL, queueName string) (*Producer, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{client: asynq.NewClient(redisOpt), queueName: queueName, maxRetry: 3}, nil
}

// NewTask builds the task for job, assigning ids when missing.
func NewTask(job *Job) (*asynq.Task, error) {
	if job.DocumentID == "" {
		job.DocumentID = uuid.NewString()
	}
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	if len(job.Content) == 0 && job.StoragePath == "" {
		return nil, fmt.Errorf("job %s has neither content nor a storage path", job.DocumentID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(TypeProcessDocument, payload), nil
}

// Enqueue submits job. The task id is the job's TaskID, so a resubmitted
// task id is rejected by the broker.
func (p *Producer) Enqueue(ctx context.Context, job Job, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := NewTask(&job)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{
		asynq.Queue(p.queueName),
		asynq.MaxRetry(p.maxRetry),
		asynq.TaskID(job.TaskID),
		asynq.Retention(24 * time.Hour),
	}, opts...)

	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue document %s: %w", job.DocumentID, err)
	}
	return info, nil
}

// Close closes the broker connection.
func (p *Producer) Close() error {
	return p.client.Close()
}
