package embedclient

import "strings"

// Strategy selects how TruncateStep shortens text that a server has
// rejected as too long.
type Strategy string

const (
	// StrategyHead keeps the leading portion of the text.
	StrategyHead Strategy = "HEAD"
	// StrategyTail keeps the trailing portion of the text.
	StrategyTail Strategy = "TAIL"
	// StrategyMiddle keeps the head and tail, dropping the middle with
	// an ellipsis marker.
	StrategyMiddle Strategy = "MIDDLE"
	// StrategySmart prefers a paragraph boundary, falling back to a
	// sentence boundary, falling back to a hard cut.
	StrategySmart Strategy = "SMART"
)

// TruncationHistory records the outcome of an adaptive-truncation
// sequence for observability and for spec scenario C's exact assertion
// shape (Success, Steps, OriginalLength, FinalLength).
type TruncationHistory struct {
	Success        bool
	Steps          int
	OriginalLength int
	FinalLength    int
}

// EstimateTokens applies the client's ceil(chars/4) token estimate.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// PreTruncate shortens text to fit maxTokens*4 characters if its
// estimated token count exceeds maxTokens, using strategy. Text at or
// under the limit is returned unchanged.
func PreTruncate(text string, maxTokens int, strategy Strategy) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	return TruncateStep(text, limit, strategy)
}

// TruncateStep shortens text to at most maxChars characters using
// strategy. Text already within the limit is returned unchanged.
func TruncateStep(text string, maxChars int, strategy Strategy) string {
	if len(text) <= maxChars || maxChars <= 0 {
		return text
	}

	switch strategy {
	case StrategyHead:
		return text[:maxChars]
	case StrategyTail:
		return text[len(text)-maxChars:]
	case StrategyMiddle:
		if maxChars < 4 {
			return text[:maxChars]
		}
		const ellipsis = "..."
		keep := maxChars - len(ellipsis)
		head := keep / 2
		tail := keep - head
		return text[:head] + ellipsis + text[len(text)-tail:]
	case StrategySmart:
		return smartTruncate(text, maxChars)
	default:
		return text[:maxChars]
	}
}

// smartTruncate prefers cutting at a paragraph boundary, then a
// sentence boundary, falling back to a hard head cut.
func smartTruncate(text string, maxChars int) string {
	window := text[:maxChars]

	if idx := strings.LastIndex(window, "\n\n"); idx > maxChars/2 {
		return text[:idx]
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > maxChars/2 {
			return text[:idx+1]
		}
	}
	return window
}
