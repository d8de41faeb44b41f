package toolkit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codesage-ai/codesage/internal/observability"
	"github.com/codesage-ai/codesage/pkg/models"
)

// ExecutorConfig configures concurrency limits, timeouts, and retry
// behavior for parallel tool execution.
type ExecutorConfig struct {
	// MaxConcurrency bounds the number of tool executions running at
	// once, enforced by a counting semaphore. Default: 5.
	MaxConcurrency int
	// DefaultTimeout is the wall-clock deadline applied to a tool call
	// unless overridden per-tool. Default: 30s.
	DefaultTimeout time.Duration
	// DefaultRetries is the number of retries applied to a failed tool
	// call unless overridden per-tool. Default: 2.
	DefaultRetries int
	// RetryBackoff is the initial backoff between retries. Default:
	// 100ms.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the documented concurrency/timeout/retry
// defaults for tool execution.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool overrides of the executor defaults.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// ExecutionResult holds the outcome of one tool call plus timing and
// retry bookkeeping.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *models.ToolResult
	Duration   time.Duration
	Attempts   int
}

// ExecutorMetricsSnapshot is a point-in-time, copy-safe view of executor
// counters.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// Executor runs tool calls against a Registry with concurrency limiting,
// per-tool timeout/retry overrides, and panic containment, so a
// misbehaving tool can never block the Reasoning-Acting Loop beyond its
// configured wall-clock deadline.
type Executor struct {
	registry   *Registry
	config     ExecutorConfig
	mu         sync.RWMutex
	toolConfig map[string]ToolConfig
	sem        chan struct{}

	metricsMu sync.Mutex
	metrics   ExecutorMetricsSnapshot

	// Prom is an optional Prometheus sink. Nil by default; set it after
	// construction to start emitting codesage_tool_execution_* series.
	Prom *observability.Metrics
}

// NewExecutor creates an Executor bound to registry. A zero-value
// config is replaced with DefaultExecutorConfig.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
	}
}

// ConfigureTool sets a per-tool override of timeout/retries/backoff.
func (e *Executor) ConfigureTool(name string, tc ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = tc
}

func (e *Executor) resolveToolConfig(name string) (timeout time.Duration, maxRetries int, backoff time.Duration) {
	timeout, maxRetries, backoff = e.config.DefaultTimeout, e.config.DefaultRetries, e.config.RetryBackoff
	e.mu.RLock()
	tc, ok := e.toolConfig[name]
	e.mu.RUnlock()
	if !ok {
		return
	}
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	if tc.Retries >= 0 {
		maxRetries = tc.Retries
	}
	if tc.RetryBackoff > 0 {
		backoff = tc.RetryBackoff
	}
	return
}

// ExecuteAll runs calls concurrently, bounded by MaxConcurrency, and
// returns results in the same order as calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single tool call with retry and timeout handling,
// acquiring a semaphore slot first for backpressure.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.ToolName}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Result = &models.ToolResult{Success: false, Error: ctx.Err().Error()}
		result.Duration = time.Since(start)
		return result
	}

	timeout, maxRetries, backoff := e.resolveToolConfig(call.ToolName)

	var last *models.ToolResult
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1
		last = e.executeWithTimeout(ctx, call, timeout)

		if last.Success {
			result.Result = last
			result.Duration = time.Since(start)
			e.recordSuccess(attempt)
			e.Prom.ObserveToolExecution(call.ToolName, "success", result.Duration.Seconds())
			return result
		}

		if ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(int64(1)<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			last = &models.ToolResult{Success: false, Error: ctx.Err().Error()}
		}
	}

	result.Result = last
	result.Duration = time.Since(start)
	e.recordFailure(last)
	e.Prom.ObserveToolExecution(call.ToolName, "error", result.Duration.Seconds())
	return result
}

func (e *Executor) recordSuccess(attempt int) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	e.metrics.TotalExecutions++
	if attempt > 0 {
		e.metrics.TotalRetries += int64(attempt)
	}
}

func (e *Executor) recordFailure(result *models.ToolResult) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if result != nil && result.Error == context.DeadlineExceeded.Error() {
		e.metrics.TotalTimeouts++
	}
}

// executeWithTimeout enforces a wall-clock deadline around
// Registry.Execute and recovers from a panicking tool, converting it
// into a failed ToolResult instead of crashing the loop.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) *models.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan *models.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.metricsMu.Lock()
				e.metrics.TotalPanics++
				e.metricsMu.Unlock()
				resultCh <- &models.ToolResult{
					Success: false,
					Error:   fmt.Sprintf("tool %q panicked: %v\n%s", call.ToolName, r, debug.Stack()),
				}
			}
		}()
		resultCh <- e.registry.Execute(execCtx, call.ToolName, call.Parameters)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return &models.ToolResult{Success: false, Error: "context cancelled"}
		}
		return &models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("execution timed out after %s", timeout),
		}
	}
}

// Metrics returns a snapshot of the executor's counters.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics
}
