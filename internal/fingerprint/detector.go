// Package fingerprint integrates the external copyright-match service, which
// fingerprints an audio file and looks it up against known recordings.
package fingerprint

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

// Detector reports copyright matches for an audio file on disk.
type Detector interface {
	Check(ctx context.Context, path string) (*session.CopyrightResult, error)
}

// HTTPDetector calls the fingerprint service over HTTP.
type HTTPDetector struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// Config holds fingerprint service client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logger.Logger
}

// NewHTTPDetector creates a fingerprint service client.
func NewHTTPDetector(cfg Config) (*HTTPDetector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fingerprint client: base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("fingerprint")
	}

	return &HTTPDetector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Check streams the file to the fingerprint service and decodes its match
// report. The top five matches are kept, mirroring the lookup service's own
// relevance ordering.
func (d *HTTPDetector) Check(ctx context.Context, path string) (*session.CopyrightResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat audio file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/lookup", f)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = stat.Size()
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fingerprint service request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fingerprint service returned HTTP %d", resp.StatusCode)
	}

	var result session.CopyrightResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode fingerprint response: %w", err)
	}

	if len(result.Matches) > 5 {
		result.Matches = result.Matches[:5]
	}
	d.log.Debugf("fingerprint lookup detected=%v confidence=%.2f matches=%d", result.Detected, result.Confidence, len(result.Matches))
	return &result, nil
}

// DisabledDetector is used when no fingerprint service is configured. Every
// check reports unchecked, which the pipeline treats as non-fatal.
type DisabledDetector struct{}

// NewDisabledDetector returns a detector that skips copyright checks.
func NewDisabledDetector() *DisabledDetector {
	return &DisabledDetector{}
}

func (d *DisabledDetector) Check(_ context.Context, _ string) (*session.CopyrightResult, error) {
	return &session.CopyrightResult{
		Checked: false,
		Error:   "copyright detection not configured",
	}, nil
}

var _ Detector = (*HTTPDetector)(nil)
var _ Detector = (*DisabledDetector)(nil)
