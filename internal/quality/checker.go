// Package quality integrates the external audio quality service. The service
// owns all signal analysis; this package streams the scratch file to it and
// interprets the verdict.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// Report is the quality service's verdict for one audio file.
type Report struct {
	Quality       *session.QualityResult `json:"quality"`
	Errors        []string               `json:"errors,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

// Checker produces a quality Report for an audio file on disk.
type Checker interface {
	Check(ctx context.Context, path string) (*Report, error)
}

// HTTPChecker calls the quality service over HTTP, streaming the audio file
// as the request body to keep memory flat for multi-gigabyte submissions.
type HTTPChecker struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// Config holds quality service client configuration.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logger.Logger
}

// NewHTTPChecker creates a quality service client.
func NewHTTPChecker(cfg Config) (*HTTPChecker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quality client: base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("quality")
	}

	return &HTTPChecker{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Check streams the file at path to the quality service and decodes its
// report. A transport failure returns an error; a service-side analysis
// failure returns a report with a nil Quality field.
func (c *HTTPChecker) Check(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat audio file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/check", f)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = stat.Size()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quality service request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quality response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quality service returned HTTP %d: %s", resp.StatusCode, summarize(body))
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode quality response: %w", err)
	}

	if report.Quality != nil {
		c.log.Debugf("quality check passed=%v duration=%.1fs", report.Quality.Passed, report.Quality.Duration)
	}
	return &report, nil
}

func summarize(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
