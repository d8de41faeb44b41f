package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON recovers a single JSON value from raw LLM output using a
// three-stage fallback, since models in JSON mode still occasionally
// wrap their answer in prose or a fenced code block:
//  1. Parse raw directly.
//  2. Parse the contents of the first ```json fenced block.
//  3. Parse the substring from the first '{' to the last '}'.
func ExtractJSON(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("llm: empty response, nothing to extract")
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	if fenced, ok := extractFencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(fenced), out); err == nil {
			return nil
		}
	}

	if braced, ok := extractBraceSpan(trimmed); ok {
		if err := json.Unmarshal([]byte(braced), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("llm: could not extract a JSON value from response")
}

func extractFencedBlock(s string) (string, bool) {
	const marker = "```"
	start := strings.Index(s, marker)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || strings.EqualFold(firstLine, "json") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, marker)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func extractBraceSpan(s string) (string, bool) {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first == -1 || last == -1 || last < first {
		return "", false
	}
	return s[first : last+1], true
}
