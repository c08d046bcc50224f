package decrypt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// AggregatorClient fetches blobs from the content-addressed blob store. The
// store is eventually consistent: a freshly written blob may 404 for a while,
// so the client waits before the first attempt and retries 404s on a fixed
// backoff. Other HTTP errors are never retried.
type AggregatorClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger

	propagationWait time.Duration
	retryDelay      time.Duration
	maxRetries      int
}

// AggregatorConfig holds aggregator client configuration.
type AggregatorConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *logger.Logger

	// PropagationWait is slept once before the first fetch attempt.
	PropagationWait time.Duration
	// RetryDelay is slept between 404 retries.
	RetryDelay time.Duration
	// MaxRetries bounds the number of fetch attempts.
	MaxRetries int
	// Timeout bounds the whole fetch when no HTTPClient is supplied.
	Timeout time.Duration
}

// NewAggregatorClient creates a new aggregator client.
func NewAggregatorClient(cfg AggregatorConfig) (*AggregatorClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("aggregator client: base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 300 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("aggregator")
	}

	propagationWait := cfg.PropagationWait
	if propagationWait == 0 {
		propagationWait = 15 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}

	return &AggregatorClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           cfg.Token,
		httpClient:      httpClient,
		log:             log,
		propagationWait: propagationWait,
		retryDelay:      retryDelay,
		maxRetries:      maxRetries,
	}, nil
}

// FetchBlob retrieves the blob body, tolerating propagation delay.
func (c *AggregatorClient) FetchBlob(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, newError(KindValidation, "blob reference is required", nil)
	}

	url := fmt.Sprintf("%s/v1/blobs/%s", c.baseURL, blobID)

	c.log.WithField("blob", truncateID(blobID)).Infof("waiting %s for blob propagation", c.propagationWait)
	if err := sleepCtx(ctx, c.propagationWait); err != nil {
		return nil, newError(KindTimeout, "cancelled during propagation wait", err)
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, status, err := c.fetchOnce(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(KindTimeout, "blob fetch deadline exceeded", err)
			}
			return nil, newError(KindNetwork, "blob fetch failed", err)
		}

		switch {
		case status == http.StatusOK:
			c.log.WithField("blob", truncateID(blobID)).
				Infof("fetched blob on attempt %d (%d bytes)", attempt, len(body))
			return body, nil
		case status == http.StatusNotFound:
			if attempt == c.maxRetries {
				return nil, newError(KindNetwork,
					fmt.Sprintf("blob not found after %d attempts", c.maxRetries), nil)
			}
			c.log.WithField("blob", truncateID(blobID)).
				Warnf("blob not found (404), retrying in %s (attempt %d/%d)", c.retryDelay, attempt, c.maxRetries)
			if err := sleepCtx(ctx, c.retryDelay); err != nil {
				return nil, newError(KindTimeout, "cancelled during retry wait", err)
			}
		case status >= 500:
			return nil, newError(KindNetwork, fmt.Sprintf("aggregator returned HTTP %d", status), nil)
		default:
			return nil, newError(KindValidation, fmt.Sprintf("aggregator returned HTTP %d", status), nil)
		}
	}

	return nil, newError(KindNetwork, fmt.Sprintf("blob not found after %d attempts", c.maxRetries), nil)
}

func (c *AggregatorClient) fetchOnce(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain for connection reuse; the status is all the caller needs.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
