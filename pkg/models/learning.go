package models

import "time"

// ToolCallStep is one recorded step of an exploration's tool-call trace.
type ToolCallStep struct {
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters"`
	ResultSummary string         `json:"result_summary"`
	Success       bool           `json:"success"`
	DurationMs    int64          `json:"duration_ms"`
	RelatedFiles  []string       `json:"related_files,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// LearningRecord is the durable output of one Self-Evolution Loop
// exploration: a question, its answer, and the path taken to reach it.
// ExplorationPath is non-empty whenever the record represents success.
type LearningRecord struct {
	ID             string         `json:"id"`
	ProjectKey     string         `json:"project_key"`
	CreatedAt      time.Time      `json:"created_at"`
	Question       string         `json:"question"`
	QuestionType   string         `json:"question_type"`
	Answer         string         `json:"answer"`
	ExplorationPath []ToolCallStep `json:"exploration_path"`
	Confidence     float64        `json:"confidence"` // [0,1]
	SourceFiles    []string       `json:"source_files,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	QuestionVector []float32      `json:"question_vector,omitempty"`
	AnswerVector   []float32      `json:"answer_vector,omitempty"`
}

// FailureRecord captures one failed exploration for post-mortem review.
type FailureRecord struct {
	ID         string    `json:"id"`
	ProjectKey string    `json:"project_key"`
	CreatedAt  time.Time `json:"created_at"`
	Question   string    `json:"question"`
	Reason     string    `json:"reason"`
	Phase      string    `json:"phase"`
}

// QuestionCandidate is one LLM-proposed exploration question before it
// is filtered and ranked by the Question Generator.
type QuestionCandidate struct {
	Question        string   `json:"question"`
	Type            string   `json:"type"`
	Priority        int      `json:"priority"` // [1,10]
	Reason          string   `json:"reason"`
	SuggestedTools  []string `json:"suggested_tools,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}
