/**
 * Document Understanding Worker - Main Entry Point
 *
 * Consumes document:process tasks and runs each document through
 * OCR, normalization, classification, extraction and enrichment.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Tesseract / poppler token extraction with word boxes
 * - Language model classification and schema extraction with provider fail-over
 * - PostgreSQL system of record, optional Qdrant, GCS and Firestore sinks
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/docintel-worker/internal/app"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
)

func main() {
	envErr := godotenv.Load(".env.docintel")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(cfg.LogLevel, cfg.IsDevelopment()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logger := logging.NewLogger("worker")
	if envErr != nil {
		logger.Warn("worker.env_file_missing", "file", ".env.docintel")
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("worker.failed", "error", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx := context.Background()
	logger.Info("worker.starting",
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency,
		"providers", cfg.LLMProviders,
		"catalog", cfg.CatalogSource)

	application, err := app.Build(ctx, cfg, app.Options{Sinks: true})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer application.Close()

	if application.Results != nil {
		if err := healthCheck(application); err != nil {
			return err
		}
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		Runner:            application.Orchestrator,
		FailureSink:       application.Sinks,
		Logger:            logging.NewLogger("queue"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	if err := consumer.Start(); err != nil {
		return err
	}
	logger.Info("worker.ready", "sinks", application.Sinks.Sinks(), "timeout", cfg.ProcessingTimeoutDuration())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info("worker.shutdown", "signal", sig.String())

	consumer.Stop()

	llmStats := llm.DefaultCounters.Snapshot()
	logger.Info("worker.stopped",
		"documents", application.Orchestrator.Counters().Snapshot(),
		"llm", llmStats)
	return nil
}

func healthCheck(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Results.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
