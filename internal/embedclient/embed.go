package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codesage-ai/codesage/internal/backoff"
)

// ErrLengthRejected is returned internally when the embedding server
// signals the input is too long, distinguishing that case from a
// transient network failure so only the former triggers truncation.
var ErrLengthRejected = errors.New("embedclient: input too long")

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int // default 8192
	BatchSize     int // default 10
	MaxRetries    int // default 3, transient-error retries
	TruncStepSize int // default 1000 chars per adaptive-truncation step
	Strategy      Strategy
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client embeds text via an OpenAI-compatible /v1/embeddings endpoint,
// implemented directly over net/http so a self-hosted BGE-style server
// is equally supported.
type Client struct {
	cfg Config
}

// NewClient builds a Client, applying the documented embedding defaults.
func NewClient(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TruncStepSize <= 0 {
		cfg.TruncStepSize = 1000
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyTail
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg}
}

type embeddingsRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingsResponse struct {
	Data      []embeddingDatum `json:"data"`
	Embedding []float32        `json:"embedding"`
}

// Embed returns the embedding vector for a single text, applying
// pre-truncation, transient-error retry, and length-error adaptive
// truncation.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, TruncationHistory, error) {
	vectors, hist, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, hist, err
	}
	if len(vectors) == 0 {
		return nil, hist, fmt.Errorf("embedclient: no embedding returned")
	}
	return vectors[0], hist, nil
}

// BatchEmbed embeds up to BatchSize texts per request, returning
// vectors in input order. Only the first input's truncation history is
// reported, matching the single-text Embed calls that every caller in
// this module makes.
func (c *Client) BatchEmbed(ctx context.Context, texts []string) ([][]float32, TruncationHistory, error) {
	if len(texts) == 0 {
		return nil, TruncationHistory{}, nil
	}
	if len(texts) > c.cfg.BatchSize {
		var all [][]float32
		var first TruncationHistory
		for start := 0; start < len(texts); start += c.cfg.BatchSize {
			vectors, hist, err := c.BatchEmbed(ctx, texts[start:min(start+c.cfg.BatchSize, len(texts))])
			if start == 0 {
				first = hist
			}
			if err != nil {
				return nil, first, err
			}
			all = append(all, vectors...)
		}
		return all, first, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = PreTruncate(t, c.cfg.MaxTokens, c.cfg.Strategy)
	}

	hist := TruncationHistory{OriginalLength: len(texts[0])}
	current := prepared

	for step := 0; ; step++ {
		hist.Steps = step + 1
		vectors, err := c.callWithRetry(ctx, current)
		if err == nil {
			hist.Success = true
			hist.FinalLength = len(current[0])
			return vectors, hist, nil
		}
		if !errors.Is(err, ErrLengthRejected) {
			hist.Success = false
			return nil, hist, err
		}

		shrunk := make([]string, len(current))
		allEmpty := true
		for i, t := range current {
			target := len(t) - c.cfg.TruncStepSize
			if target < 1 {
				target = 1
			}
			shrunk[i] = TruncateStep(t, target, c.cfg.Strategy)
			if len(shrunk[i]) != len(t) {
				allEmpty = false
			}
		}
		if allEmpty {
			hist.Success = false
			hist.FinalLength = len(current[0])
			return nil, hist, fmt.Errorf("embedclient: exhausted truncation without success: %w", err)
		}
		current = shrunk
	}
}

func (c *Client) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.Policy{InitialMs: 200, MaxMs: 5000, Factor: 1, Jitter: 0}
	classify := func(err error) bool {
		return isTransient(err) && !errors.Is(err, ErrLengthRejected)
	}
	result, err := backoff.Retry(ctx, policy, c.cfg.MaxRetries, classify, func(attempt int) ([][]float32, error) {
		return c.call(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(embeddingsRequest{Input: input, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedclient: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isLengthError(resp.StatusCode, data) {
			return nil, ErrLengthRejected
		}
		return nil, fmt.Errorf("embedclient: server returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedclient: parse response: %w", err)
	}

	if len(parsed.Data) > 0 {
		vectors := make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				continue
			}
			vectors[d.Index] = d.Embedding
		}
		return vectors, nil
	}
	if parsed.Embedding != nil {
		return [][]float32{parsed.Embedding}, nil
	}
	return nil, fmt.Errorf("embedclient: response contained no embeddings")
}

func isLengthError(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusRequestEntityTooLarge {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "too long") || strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "input too large") || strings.Contains(lower, "too many tokens")
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "429", "connection refused", "connection reset", "status 500", "status 502", "status 503", "status 504", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
