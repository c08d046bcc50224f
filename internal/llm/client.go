// Package llm integrates the external transcription and analysis services
// through their OpenAI-compatible chat completions surface.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// Model identifiers for the two pipeline stages.
const (
	TranscriptionModel = "mistralai/voxtral-small-24b-2507"
	AnalysisModel      = "google/gemini-2.5-flash"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client is a chat-completions client shared by the transcription and
// analysis stages. Workers may share one client; each call carries its own
// context for cancellation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// Config holds LLM client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logger.Logger
}

// NewClient creates a chat-completions client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm client: API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		log = logger.NewDefault("llm")
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	InputAudio string `json:"input_audio,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

// Transcribe sends the audio bytes, base64-embedded in a chat message, and
// returns the transcript text. An empty transcript is returned as-is; the
// pipeline decides whether that is fatal.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(audio)

	req := chatRequest{
		Model:     TranscriptionModel,
		MaxTokens: 4096,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: transcriptionInstruction},
				{Type: "input_audio", InputAudio: fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)},
			},
		}},
	}

	content, err := c.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// Analyze sends a plain-text prompt at low temperature and returns the raw
// response text for the caller to parse.
func (c *Client) Analyze(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := 0.3

	req := chatRequest{
		Model:       AnalysisModel,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
		}},
	}

	content, err := c.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("analysis request: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
			if len(msg) > 200 {
				msg = msg[:200]
			}
		}
		return "", fmt.Errorf("completion failed (HTTP %d): %s", resp.StatusCode, msg)
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("no content in completion response")
	}
	return content.String(), nil
}
