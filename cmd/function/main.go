// Command function serves the pipeline as Cloud Functions: a CloudEvent
// handler for GCS object finalize events and a synchronous HTTP handler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/adverant/nexus/docintel-worker/internal/app"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
)

// GCSEvent is the data of a storage object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Generation  string `json:"generation"`
}

var (
	runner  queue.Runner
	once    sync.Once
	initErr error
)

func init() {
	functions.CloudEvent("ProcessUploadedDocument", processUploadedDocument)
	functions.HTTP("ProcessDocument", processDocument)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		fmt.Fprintf(os.Stderr, "funcframework.Start: %v\n", err)
		os.Exit(1)
	}
}

func pipelineRunner() (queue.Runner, error) {
	once.Do(func() {
		if runner != nil {
			return
		}
		var cfg *config.Config
		if cfg, initErr = config.LoadConfig(); initErr != nil {
			return
		}
		if initErr = logging.Init(cfg.LogLevel, cfg.IsDevelopment()); initErr != nil {
			return
		}
		var a *app.App
		if a, initErr = app.Build(context.Background(), cfg, app.Options{Sinks: true}); initErr != nil {
			return
		}
		runner = a.Orchestrator
	})
	return runner, initErr
}

// documentIDFor is stable per object generation so a redelivered event
// maps onto the same result row.
func documentIDFor(e GCSEvent) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("gs://"+e.Bucket+"/"+e.Name+"#"+e.Generation)).String()
}

func processUploadedDocument(ctx context.Context, e cloudevents.Event) error {
	r, err := pipelineRunner()
	if err != nil {
		logging.NewLogger("function").Error("function.init_failed", "error", err)
		return err
	}
	return handleUploadedDocument(ctx, r, e, logging.NewLogger("function"))
}

func handleUploadedDocument(ctx context.Context, r queue.Runner, e cloudevents.Event, log *logging.Logger) error {
	log = logging.OrNop(log)
	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		log.Error("function.event_invalid", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if gcsEvent.Bucket == "" || gcsEvent.Name == "" || strings.HasSuffix(gcsEvent.Name, "/") {
		log.Info("function.event_skipped", "bucket", gcsEvent.Bucket, "object", gcsEvent.Name)
		return nil
	}

	job := queue.Job{
		DocumentID:  documentIDFor(gcsEvent),
		TaskID:      e.ID(),
		Filename:    gcsEvent.Name[strings.LastIndex(gcsEvent.Name, "/")+1:],
		MimeType:    gcsEvent.ContentType,
		StoragePath: "gs://" + gcsEvent.Bucket + "/" + gcsEvent.Name,
	}
	log = log.With("document_id", job.DocumentID, "object", job.StoragePath)

	out, err := r.Run(ctx, job.Request())
	if err != nil {
		// A permanent failure is already stored. Redelivery cannot help.
		if errors.IsPermanent(err) {
			log.Warn("function.document_rejected", "error", err)
			return nil
		}
		log.Error("function.document_failed", "error", err)
		return err
	}
	log.Info("function.document_processed", "status", out.Status)
	return nil
}

func processDocument(w http.ResponseWriter, r *http.Request) {
	rn, err := pipelineRunner()
	if err != nil {
		http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		return
	}
	handleDocument(rn, logging.NewLogger("function"))(w, r)
}

// handleDocument runs the posted job synchronously and answers with the
// pipeline output.
func handleDocument(rn queue.Runner, log *logging.Logger) http.HandlerFunc {
	log = logging.OrNop(log)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var job queue.Job
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20)).Decode(&job); err != nil {
			http.Error(w, fmt.Sprintf("invalid job: %v", err), http.StatusBadRequest)
			return
		}

		out, err := rn.Run(r.Context(), job.Request())
		status := http.StatusOK
		switch {
		case err == nil:
		case errors.IsPermanent(err):
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
		}
		if err != nil {
			log.Warn("function.http_failed", "document_id", job.DocumentID, "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if out == nil {
			pe, ok := errors.AsProcessingError(err)
			if !ok {
				pe = errors.NewInvalidRequestError(job.DocumentID, err.Error())
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": pe.ToMap()})
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
