package storage

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// FileSource reads local paths, optionally relative to Root.
type FileSource struct {
	Root string
}

// Fetch implements pipeline.Source.
func (s FileSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	p := strings.TrimPrefix(path, "file://")
	if s.Root != "" && !filepath.IsAbs(p) {
		p = filepath.Join(s.Root, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// HTTPSourceConfig bounds downloads.
type HTTPSourceConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	MaxBytes       int64
}

// DefaultHTTPSourceConfig returns sensible default configuration
func DefaultHTTPSourceConfig() HTTPSourceConfig {
	return HTTPSourceConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     32 * time.Second,
		Timeout:        10 * time.Minute,
		MaxBytes:       512 * 1024 * 1024,
	}
}

// HTTPSource downloads documents with retry and exponential backoff.
type HTTPSource struct {
	cfg    HTTPSourceConfig
	client *http.Client
	logger *logging.Logger
}

// NewHTTPSource creates a download source.
func NewHTTPSource(cfg HTTPSourceConfig, logger *logging.Logger) *HTTPSource {
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger),
	}
}

// Fetch implements pipeline.Source.
func (s *HTTPSource) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		data, retry, err := s.download(ctx, fileURL)
		if err == nil {
			s.logger.Info("download.completed", "url", fileURL, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		s.logger.Warn("download.attempt_failed", "url", fileURL, "attempt", attempt, "error", err)
		if !retry || attempt == s.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("failed to download file after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

func (s *HTTPSource) backoff(attempt int) time.Duration {
	d := time.Duration(float64(s.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}

// download makes one attempt and reports whether a failure is worth retrying.
func (s *HTTPSource) download(ctx context.Context, fileURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if s.cfg.MaxBytes > 0 && resp.ContentLength > s.cfg.MaxBytes {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, s.cfg.MaxBytes)
	}

	limit := s.cfg.MaxBytes
	if limit <= 0 {
		limit = math.MaxInt64
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, false, nil
}

// Router dispatches on the path scheme. Paths without a scheme are local files.
type Router struct {
	sources map[string]pipeline.Source
}

// NewRouter creates a router with a local file fallback.
func NewRouter(files FileSource) *Router {
	r := &Router{sources: make(map[string]pipeline.Source)}
	r.Handle("file", files)
	return r
}

// Handle registers src for scheme.
func (r *Router) Handle(scheme string, src pipeline.Source) {
	r.sources[strings.ToLower(scheme)] = src
}

// Fetch implements pipeline.Source.
func (r *Router) Fetch(ctx context.Context, path string) ([]byte, error) {
	scheme := "file"
	if u, err := url.Parse(path); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}
	src, ok := r.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("no source registered for scheme %q", scheme)
	}
	return src.Fetch(ctx, path)
}
