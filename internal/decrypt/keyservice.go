package decrypt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// KeyServiceClient recovers sealed symmetric keys through the external key
// service. Transport errors are retried with exponential backoff; policy
// denials are not.
type KeyServiceClient struct {
	baseURL    string
	packageID  string
	httpClient *http.Client
	log        *logger.Logger

	attemptTimeout time.Duration
	maxAttempts    int
	backoffBase    time.Duration
}

// KeyServiceConfig holds key service client configuration.
type KeyServiceConfig struct {
	BaseURL    string
	PackageID  string
	HTTPClient *http.Client
	Logger     *logger.Logger

	// AttemptTimeout bounds each recovery attempt.
	AttemptTimeout time.Duration
	// MaxAttempts bounds the number of attempts on transport error.
	MaxAttempts int
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
}

type recoverRequest struct {
	EncryptedObjectHex string `json:"encrypted_object_hex"`
	Identity           string `json:"identity"`
	SessionKey         string `json:"session_key"`
	PackageID          string `json:"package_id"`
}

// NewKeyServiceClient creates a new key recovery client.
func NewKeyServiceClient(cfg KeyServiceConfig) (*KeyServiceClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("key service client: base URL is required")
	}
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("key service client: package id is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("keyservice")
	}

	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout == 0 {
		attemptTimeout = 60 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase == 0 {
		backoffBase = time.Second
	}

	return &KeyServiceClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		packageID:      cfg.PackageID,
		httpClient:     httpClient,
		log:            log,
		attemptTimeout: attemptTimeout,
		maxAttempts:    maxAttempts,
		backoffBase:    backoffBase,
	}, nil
}

// RecoverKey asks the key service to open the sealed key identified by the
// encrypted object. The response body is the raw recovered bytes: the AEAD
// key for envelope blobs, or the plaintext itself for direct sealing.
func (c *KeyServiceClient) RecoverKey(ctx context.Context, encryptedObjectHex, identity, sessionKey string) ([]byte, error) {
	if encryptedObjectHex == "" {
		return nil, newError(KindValidation, "encrypted object is required", nil)
	}
	if sessionKey == "" {
		return nil, newError(KindValidation, "session key is required", nil)
	}

	payload, err := json.Marshal(recoverRequest{
		EncryptedObjectHex: encryptedObjectHex,
		Identity:           identity,
		SessionKey:         sessionKey,
		PackageID:          c.packageID,
	})
	if err != nil {
		return nil, newError(KindValidation, "marshal recovery request", err)
	}

	backoff := c.backoffBase
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		key, err := c.recoverOnce(ctx, payload)
		if err == nil {
			return key, nil
		}

		kind := KindOf(err)
		if (kind != KindNetwork && kind != KindTimeout) || attempt == c.maxAttempts {
			return nil, err
		}

		lastErr = err
		c.log.WithError(err).Warnf("key recovery attempt %d/%d failed, retrying in %s", attempt, c.maxAttempts, backoff)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, newError(KindTimeout, "cancelled during key recovery backoff", err)
		}
		backoff *= 2
	}

	return nil, newError(KindNetwork, "key recovery retries exhausted", lastErr)
}

func (c *KeyServiceClient) recoverOnce(ctx context.Context, payload []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/v1/keys/recover", bytes.NewReader(payload))
	if err != nil {
		return nil, newError(KindValidation, "create recovery request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, newError(KindTimeout, "key recovery timed out", err)
		}
		return nil, newError(KindNetwork, "key recovery transport failure", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, "read key recovery response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(body) == 0 {
			return nil, newError(KindDecryption, "key service returned empty key material", nil)
		}
		return body, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, newError(KindAuthentication, "key service denied access: "+summarize(body), nil)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, newError(KindValidation, "key service rejected request: "+summarize(body), nil)
	case resp.StatusCode >= 500:
		return nil, newError(KindNetwork, fmt.Sprintf("key service returned HTTP %d", resp.StatusCode), nil)
	default:
		return nil, newError(KindDecryption, fmt.Sprintf("key service returned HTTP %d", resp.StatusCode), nil)
	}
}

func summarize(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
