/**
 * Queue Consumer for the document understanding worker
 *
 * Consumes document:process tasks from Redis through asynq and runs each
 * document through the pipeline under a per-document deadline.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// Runner runs one document. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Output, error)
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	ProcessingTimeout time.Duration
	Runner            Runner
	// FailureSink records documents that ran out of time. Optional.
	FailureSink pipeline.Sink
	Logger      *logging.Logger
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config ConsumerConfig
	logger *logging.Logger
}

// retryDelay is 5s, 10s, 20s ... capped at one minute.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 10 * time.Minute
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	c := &Consumer{config: cfg, logger: logging.OrNop(cfg.Logger)}
	c.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc: retryDelay,
		IsFailure: func(err error) bool {
			return !stderrors.Is(err, asynq.SkipRetry)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			c.logger.Error("queue.task.failed", "type", task.Type(), "error", err)
		}),
		Logger:          c.logger.Sugar(),
		ShutdownTimeout: 30 * time.Second,
	})

	c.mux = asynq.NewServeMux()
	c.mux.HandleFunc(TypeProcessDocument, c.HandleProcessDocument)
	return c, nil
}

// Start runs the server in the background.
func (c *Consumer) Start() error {
	c.logger.Info("queue.consumer.starting", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop waits for in-flight tasks, then stops the server.
func (c *Consumer) Stop() {
	c.logger.Info("queue.consumer.stopping")
	c.server.Shutdown()
	c.logger.Info("queue.consumer.stopped")
}

// HandleProcessDocument processes one document:process task.
func (c *Consumer) HandleProcessDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	log := c.logger.With("document_id", job.DocumentID, "task_id", job.TaskID)
	log.Info("queue.job.received", "filename", job.Filename, "storage_path", job.StoragePath, "bytes", len(job.Content))

	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessingTimeout)
	defer cancel()

	out, err := c.config.Runner.Run(processCtx, job.Request())
	duration := time.Since(startTime)

	if err != nil {
		if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			timeoutErr := errors.NewProcessingTimeoutError(job.DocumentID, c.config.ProcessingTimeout, err)
			log.Error("queue.job.timeout", "elapsed_ms", duration.Milliseconds(), "timeout", c.config.ProcessingTimeout)
			c.recordTimeout(ctx, job, startTime, timeoutErr)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}
		if errors.IsPermanent(err) {
			log.Error("queue.job.rejected", "elapsed_ms", duration.Milliseconds(), "error", err)
			return fmt.Errorf("document processing failed: %v: %w", err, asynq.SkipRetry)
		}
		log.Error("queue.job.failed", "elapsed_ms", duration.Milliseconds(), "error", err)
		return fmt.Errorf("document processing failed: %w", err)
	}

	fields := []interface{}{"elapsed_ms", duration.Milliseconds(), "status", out.Status}
	if doc := out.Document; doc != nil {
		fields = append(fields, "document_type", doc.DocumentType, "quality_band", doc.QualityBand, "enrichment_rate", doc.EnrichmentRate)
	}
	log.Info("queue.job.completed", fields...)

	if rw := task.ResultWriter(); rw != nil {
		if res, err := json.Marshal(resultSummary(out)); err == nil {
			_, _ = rw.Write(res)
		}
	}
	return nil
}

// recordTimeout hands a failed output to the failure sink, since the
// cancelled run itself delivers nothing.
func (c *Consumer) recordTimeout(ctx context.Context, job Job, started time.Time, perr *errors.ProcessingError) {
	if c.config.FailureSink == nil {
		return
	}
	out := &pipeline.Output{
		DocumentID:  job.DocumentID,
		TaskID:      job.TaskID,
		Status:      pipeline.StatusFailed,
		Error:       perr.ToMap(),
		StageMillis: map[string]int64{},
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := c.config.FailureSink.Deliver(context.WithoutCancel(ctx), out); err != nil {
		c.logger.Warn("queue.job.timeout_record_failed", "document_id", job.DocumentID, "error", err)
	}
}

func resultSummary(out *pipeline.Output) map[string]interface{} {
	summary := map[string]interface{}{
		"documentId": out.DocumentID,
		"status":     out.Status,
	}
	if doc := out.Document; doc != nil {
		summary["documentType"] = doc.DocumentType
		summary["qualityBand"] = doc.QualityBand
		summary["qualityScore"] = doc.QualityScore
		summary["enrichmentRate"] = doc.EnrichmentRate
	}
	return summary
}
