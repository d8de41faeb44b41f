// Package question implements the Question Generator (C9): asks the
// LLM for a ranked batch of exploration questions, then filters out
// anything that duplicates a recently asked question or falls below a
// minimum priority. Grounded on internal/llm/service.go's Service.JSON
// for the structured call and internal/rag/index/manager.go's
// config-struct convention for its own Config.
package question

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/pkg/models"
)

// Config parameterizes a Generator.
type Config struct {
	// MinPriority drops any candidate with Priority below this bound.
	// Valid priorities are [1,10]; default 1 admits everything.
	MinPriority int
	// DesiredCount is how many candidates to ask the LLM for.
	DesiredCount int
}

// DefaultConfig returns the documented question-generator defaults.
func DefaultConfig() Config {
	return Config{MinPriority: 1, DesiredCount: 5}
}

// Context describes the project the Generator is asking about.
type Context struct {
	ProjectKey     string
	TechStack      []string
	KnowledgeGaps  []string
	RecentQuestions []string // last 20, most recent first
}

// Generator produces ranked, deduplicated exploration questions.
type Generator struct {
	cfg     Config
	service *llm.Service
}

// New builds a Generator around service.
func New(cfg Config, service *llm.Service) *Generator {
	if cfg.DesiredCount <= 0 {
		cfg.DesiredCount = 5
	}
	if cfg.MinPriority <= 0 {
		cfg.MinPriority = 1
	}
	return &Generator{cfg: cfg, service: service}
}

// QuestionHash returns the stable SHA-256 hex digest of a normalized
// question, used both to filter duplicates here and to feed
// doomloop.Guard's consecutive-duplicate ring.
func QuestionHash(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

type candidateBatch struct {
	Candidates []models.QuestionCandidate `json:"candidates"`
}

// Generate asks the LLM for Config.DesiredCount candidates, drops any
// whose hash matches a recent question or whose priority is below
// MinPriority, and returns the remainder sorted by priority descending.
func (g *Generator) Generate(ctx context.Context, pctx Context) ([]models.QuestionCandidate, error) {
	system := "You are the question-generation component of an autonomous code-analysis agent. " +
		"Given a project's tech stack and known knowledge gaps, propose new exploration questions " +
		"a curious senior engineer would ask to understand the codebase better. Respond only with JSON."

	recent := pctx.RecentQuestions
	if len(recent) > 20 {
		recent = recent[:20]
	}
	prompt := fmt.Sprintf(
		"Tech stack: %s\nKnown knowledge gaps: %s\nRecently asked questions (avoid repeating these):\n%s\n\n"+
			"Produce exactly %d candidates as JSON: "+
			`{"candidates":[{"question":"...","type":"...","priority":1-10,"reason":"...","suggestedTools":["..."],"expectedOutcome":"..."}]}`,
		strings.Join(pctx.TechStack, ", "),
		strings.Join(pctx.KnowledgeGaps, ", "),
		strings.Join(recent, "\n"),
		g.cfg.DesiredCount,
	)

	var batch candidateBatch
	if err := g.service.JSON(ctx, system, prompt, &batch); err != nil {
		return nil, fmt.Errorf("question: generate candidates: %w", err)
	}

	recentHashes := make(map[string]struct{}, len(recent))
	for _, q := range recent {
		recentHashes[QuestionHash(q)] = struct{}{}
	}

	filtered := make([]models.QuestionCandidate, 0, len(batch.Candidates))
	for _, c := range batch.Candidates {
		if c.Priority < g.cfg.MinPriority {
			continue
		}
		if _, dup := recentHashes[QuestionHash(c.Question)]; dup {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Priority > filtered[j].Priority })
	return filtered, nil
}

// MarshalCandidates is a small debugging/logging helper exposing a
// stable JSON rendering of a candidate batch for structured log fields.
func MarshalCandidates(candidates []models.QuestionCandidate) string {
	b, err := json.Marshal(candidates)
	if err != nil {
		return "[]"
	}
	return string(b)
}
