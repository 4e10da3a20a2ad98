// Command docpipe runs documents through the pipeline locally and talks to
// the worker's queue and result stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docintel-worker/internal/app"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
	"github.com/adverant/nexus/docintel-worker/internal/storage"
)

type rootOptions struct {
	envFile string
	pretty  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "docpipe",
		Short:        "Document understanding pipeline tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
					return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env.docintel", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")

	root.AddCommand(newRunCmd(opts), newSubmitCmd(opts), newShowCmd(opts), newSimilarCmd(opts))
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.LogLevel, cfg.IsDevelopment()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func writeJSON(w io.Writer, pretty bool, v interface{}) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// hasScheme reports whether arg names a remote object rather than a local file.
func hasScheme(arg string) bool {
	u, err := url.Parse(arg)
	return err == nil && len(u.Scheme) > 1
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		docType string
		store   bool
	)
	cmd := &cobra.Command{
		Use:   "run FILE|URI",
		Short: "Process one document locally and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.ProcessingTimeoutDuration())
			defer cancel()

			a, err := app.Build(ctx, cfg, app.Options{Sinks: store})
			if err != nil {
				return err
			}
			defer a.Close()

			req := pipeline.Request{DocumentType: docType, Filename: filepath.Base(args[0])}
			if hasScheme(args[0]) {
				req.StoragePath = args[0]
			} else {
				if req.Content, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}

			out, runErr := a.Orchestrator.Run(ctx, req)
			if out != nil {
				if err := writeJSON(cmd.OutOrStdout(), root.pretty, out); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "skip classification and use this document type")
	cmd.Flags().BoolVar(&store, "store", false, "deliver the result to the configured sinks")
	return cmd
}

func newSubmitCmd(root *rootOptions) *cobra.Command {
	var docType, documentID string
	cmd := &cobra.Command{
		Use:   "submit FILE|URI",
		Short: "Enqueue a document for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			producer, err := queue.NewProducer(cfg.RedisURL, cfg.QueueName)
			if err != nil {
				return err
			}
			defer producer.Close()

			job := queue.Job{DocumentID: documentID, DocumentType: docType, Filename: filepath.Base(args[0])}
			if hasScheme(args[0]) {
				job.StoragePath = args[0]
			} else if job.Content, err = os.ReadFile(args[0]); err != nil {
				return err
			}

			info, err := producer.Enqueue(cmd.Context(), job)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), root.pretty, map[string]interface{}{
				"taskId": info.ID,
				"queue":  info.Queue,
				"state":  info.State.String(),
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "skip classification and use this document type")
	cmd.Flags().StringVar(&documentID, "id", "", "document id (generated when empty)")
	return cmd
}

func newShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show DOCUMENT_ID",
		Short: "Print a stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			pg, err := storage.NewPostgresSink(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()

			res, err := pg.GetResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), root.pretty, res)
		},
	}
}

func newSimilarCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "similar TEXT",
		Short: "Find indexed documents similar to TEXT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.QdrantURL == "" {
				return fmt.Errorf("QDRANT_URL is required")
			}
			embedder, err := storage.NewVoyageEmbedder(cfg.VoyageAPIKey, logging.NewLogger("embedding"))
			if err != nil {
				return err
			}
			idx, err := storage.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection, embedder)
			if err != nil {
				return err
			}
			defer idx.Close()

			hits, err := idx.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), root.pretty, hits)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of hits")
	return cmd
}
