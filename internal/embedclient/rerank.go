package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RerankConfig configures a RerankClient.
type RerankConfig struct {
	Enabled    bool
	BaseURL    string
	APIKey     string
	Model      string
	Threshold  float64 // scores variant drop threshold
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ScoredResult pairs a reranked document's original index with its
// relevance score.
type ScoredResult struct {
	Index int
	Score float64
}

// RerankClient reorders candidate documents by relevance to a query via
// a rerank service, degrading to identity order on any failure rather
// than failing the caller. Parses the rerank service's JSON response
// with encoding/json rather than ad-hoc regex extraction.
type RerankClient struct {
	cfg RerankConfig
}

// NewRerankClient builds a RerankClient, applying defaults.
func NewRerankClient(cfg RerankConfig) *RerankClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RerankClient{cfg: cfg}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

func identityOrder(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Rerank returns the indices of documents ordered by decreasing
// relevance to query, truncated to topK. Disabled clients and any
// failure both degrade to identity order. Unlike RerankWithScores, this
// index-only variant never drops a result for falling below
// cfg.Threshold — the threshold only governs whether a caller who also
// wants scores treats a result as relevant enough to keep.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string, topK int) []int {
	scored := c.rerankAll(ctx, query, documents, topK)
	out := make([]int, len(scored))
	for i, s := range scored {
		out[i] = s.Index
	}
	return out
}

// RerankWithScores is Rerank plus the relevance score per result, with
// results below cfg.Threshold dropped.
func (c *RerankClient) RerankWithScores(ctx context.Context, query string, documents []string, topK int) []ScoredResult {
	all := c.rerankAll(ctx, query, documents, topK)
	out := make([]ScoredResult, 0, len(all))
	for _, r := range all {
		if r.Score < c.cfg.Threshold {
			continue
		}
		out = append(out, r)
	}
	return out
}

// rerankAll performs the live rerank call (or identity fallback) with
// no threshold filtering, shared by both Rerank and RerankWithScores.
func (c *RerankClient) rerankAll(ctx context.Context, query string, documents []string, topK int) []ScoredResult {
	if !c.cfg.Enabled || len(documents) == 0 {
		return identityScored(documents, topK)
	}

	results, err := c.call(ctx, query, documents, topK)
	if err != nil {
		c.cfg.Logger.Warn("embedclient: rerank failed, degrading to identity order", "error", err)
		return identityScored(documents, topK)
	}

	out := make([]ScoredResult, len(results))
	for i, r := range results {
		out[i] = ScoredResult{Index: r.Index, Score: r.RelevanceScore}
	}
	return out
}

func identityScored(documents []string, topK int) []ScoredResult {
	idx := identityOrder(len(documents))
	if topK > 0 && topK < len(idx) {
		idx = idx[:topK]
	}
	out := make([]ScoredResult, len(idx))
	for i, v := range idx {
		out[i] = ScoredResult{Index: v}
	}
	return out
}

func (c *RerankClient) call(ctx context.Context, query string, documents []string, topK int) ([]rerankResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		results, err := c.doCall(ctx, query, documents, topK)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *RerankClient) doCall(ctx context.Context, query string, documents []string, topK int) ([]rerankResult, error) {
	body, err := json.Marshal(rerankRequest{Model: c.cfg.Model, Query: query, Documents: documents, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal rerank request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedclient: rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedclient: read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedclient: rerank server returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedclient: parse rerank response: %w", err)
	}
	return parsed.Results, nil
}
