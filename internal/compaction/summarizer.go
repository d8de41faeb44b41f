package compaction

import (
	"context"
	"fmt"
	"strings"
)

const (
	verbatimBucketLimit = 500
	lineFilterLimit     = 5000
	callChainMaxDepth   = 10
)

// Summarizer reduces a large tool result to a smaller string keyed by
// the user's question and the tool's kind, used for the LLM-driven top
// bucket.
type Summarizer interface {
	Summarize(ctx context.Context, system, prompt string) (string, error)
}

// ResultSummary implements a three-bucket tool-result compression
// policy: verbatim under 500 chars, domain-aware line filtering between
// 500 and 5000, LLM summary above 5000 falling back to the
// line-filtering bucket on failure.
type ResultSummary struct {
	LLM Summarizer
}

// Summarize compresses raw (a tool result's rendered text) for toolKind
// ("grep", "semantic_search", "call_graph", or anything else) in the
// context of userQuestion. paths, when non-empty, are prepended to the
// verbatim bucket's output.
func (r *ResultSummary) Summarize(ctx context.Context, toolKind, userQuestion, raw string, paths []string) string {
	switch {
	case len(raw) < verbatimBucketLimit:
		return verbatimBucket(raw, paths)
	case len(raw) < lineFilterLimit:
		return lineFilterBucket(toolKind, raw)
	default:
		if r.LLM == nil {
			return lineFilterBucket(toolKind, raw)
		}
		summary, err := r.LLM.Summarize(ctx, llmSummarySystemPrompt(toolKind), llmSummaryPrompt(userQuestion, raw))
		if err != nil || strings.TrimSpace(summary) == "" {
			return lineFilterBucket(toolKind, raw)
		}
		return summary
	}
}

func verbatimBucket(raw string, paths []string) string {
	if len(paths) == 0 {
		return raw
	}
	return strings.Join(paths, ", ") + "\n" + raw
}

// lineFilterBucket keeps only the lines deemed "interesting" for
// toolKind: grep matches pass through unfiltered (every line is a
// match), semantic-search hits keep filePath/score lines, call-graph
// output keeps "→" call-chain lines up to callChainMaxDepth, and any
// other tool kind falls back to a plain truncation.
func lineFilterBucket(toolKind, raw string) string {
	lines := strings.Split(raw, "\n")
	switch toolKind {
	case "grep", "search_text":
		return raw
	case "semantic_search", "vector_search":
		var kept []string
		for _, line := range lines {
			if strings.Contains(line, "filePath") || strings.Contains(line, "score") {
				kept = append(kept, line)
			}
		}
		if len(kept) == 0 {
			return raw
		}
		return strings.Join(kept, "\n")
	case "call_graph", "call_chain":
		var kept []string
		depth := 0
		for _, line := range lines {
			if strings.Contains(line, "→") {
				if depth >= callChainMaxDepth {
					break
				}
				kept = append(kept, line)
				depth++
				continue
			}
			kept = append(kept, line)
		}
		return strings.Join(kept, "\n")
	default:
		if len(raw) > lineFilterLimit {
			return raw[:lineFilterLimit]
		}
		return raw
	}
}

func llmSummarySystemPrompt(toolKind string) string {
	return fmt.Sprintf("Summarize the following %s tool output concisely, preserving file paths, identifiers, and any conclusions a coding agent would need to keep working.", toolKind)
}

func llmSummaryPrompt(userQuestion, raw string) string {
	return fmt.Sprintf("User question: %s\n\nTool output:\n%s", userQuestion, raw)
}
