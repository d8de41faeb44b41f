// Package react implements the Reasoning-Acting Loop (C7): the main
// conversational driver that seeds a system prompt, streams an LLM
// completion, extracts at most one tool call per step via the tiered
// JSON extractor, executes it through toolkit.Executor, folds the
// result down via compaction, and detects duplicate-call doom loops.
// Grounded directly on internal/agent/loop.go's AgenticLoop.Run state
// machine, retargeted to the external tool-call JSON contract and the
// spec's own phase vocabulary.
package react

import "errors"

// Kind discriminates the error taxonomy the loop and its callers
// inspect by name rather than by type-asserting a generic error.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindTransientNetwork Kind = "TransientNetworkError"
	KindLength           Kind = "LengthError"
	KindTool             Kind = "ToolError"
	KindParse            Kind = "ParseError"
	KindBackoffActive    Kind = "BackoffActive"
	KindQuotaExhausted   Kind = "QuotaExhausted"
	KindDuplicateStall   Kind = "DuplicateStall"
	KindCancelled        Kind = "Cancelled"
	KindFatal            Kind = "Fatal"
)

// Error pairs a Kind with a human-readable message, letting callers
// branch with errors.As without string-matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ErrDuplicateStall is returned by Process when a tool-call fingerprint
// repeats beyond the configured threshold within one turn.
var ErrDuplicateStall = New(KindDuplicateStall, "react: duplicate tool call detected, halting turn")

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
