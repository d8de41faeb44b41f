package react

import "github.com/codesage-ai/codesage/pkg/models"

// Sink receives Parts as the loop produces them, in causal order: the
// Tool part for call N precedes any Part from call N+1. Implementations
// must not block the loop for long; slow consumers should buffer.
type Sink interface {
	Emit(models.Part)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(models.Part)

// Emit calls f.
func (f SinkFunc) Emit(p models.Part) { f(p) }

// StopReason explains why Process returned.
type StopReason string

const (
	StopFinalAnswer     StopReason = "final_answer"
	StopMaxSteps        StopReason = "max_steps"
	StopDuplicateStall  StopReason = "duplicate_stall"
	StopPartialStream   StopReason = "partial_stream"
	StopCancelled       StopReason = "cancelled"
)

// Turn classification produced by the advisory pre-call of step 2.
type turnClass string

const (
	classChat           turnClass = "chat"
	classNeedsConsult   turnClass = "needs-consult"
	classHasClearTarget turnClass = "has-clear-target"
)
