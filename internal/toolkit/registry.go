// Package toolkit implements the Tool Registry & Executor (C1): uniform
// invocation of named tools with typed, schema-validated parameters and
// streaming output capture.
package toolkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codesage-ai/codesage/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StreamSink receives incremental output segments from a streaming
// tool, in arrival order.
type StreamSink interface {
	OnChunk(models.ToolStreamChunk)
}

// StreamSinkFunc adapts a function to a StreamSink.
type StreamSinkFunc func(models.ToolStreamChunk)

// OnChunk implements StreamSink.
func (f StreamSinkFunc) OnChunk(c models.ToolStreamChunk) { f(c) }

// Tool is one named, schema-described capability the Reasoning-Acting
// Loop and the Self-Evolution Loop can invoke.
type Tool interface {
	// Name is the stable identifier used in tool-call JSON.
	Name() string
	// Params declares the accepted parameters.
	Params() []models.ToolParamSpec
	// Execute runs the tool synchronously and returns its result.
	Execute(ctx context.Context, params map[string]any) (*models.ToolResult, error)
}

// StreamingTool is implemented by tools that can forward incremental
// output as they run, in addition to their final Execute result.
type StreamingTool interface {
	Tool
	ExecuteStreaming(ctx context.Context, params map[string]any, sink StreamSink) (*models.ToolResult, error)
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is a thread-safe map of tool name to Tool, with compiled
// parameter schemas cached per tool.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds or replaces a tool by name, compiling its parameter
// schema eagerly so a bad schema fails at registration time rather than
// on first use.
func (r *Registry) Register(tool Tool) error {
	schema, err := compileParamSchema(tool.Name(), tool.Params())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = &registeredTool{tool: tool, schema: schema}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute validates params against the tool's schema, drops unknown
// keys, and runs the tool. Missing required parameters fail immediately
// without invoking the tool. A tool lookup miss or validation failure
// is returned as a failed ToolResult, not a Go error, so callers never
// need a type switch to tell a tool failure from a plumbing error.
func (r *Registry) Execute(ctx context.Context, toolName string, params map[string]any) *models.ToolResult {
	start := time.Now()

	r.mu.RLock()
	rt, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %s", toolName)}
	}

	cleaned := dropUnknownKeys(params, rt.tool.Params())
	if err := rt.schema.Validate(toAny(cleaned)); err != nil {
		return &models.ToolResult{
			Success:         false,
			Error:           fmt.Sprintf("invalid parameters for tool %q: %v", toolName, err),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	result, err := rt.tool.Execute(ctx, cleaned)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ExecutionTimeMs: elapsed}
	}
	if result == nil {
		result = &models.ToolResult{Success: true}
	}
	result.ExecutionTimeMs = elapsed
	return result
}

func toAny(m map[string]any) any {
	return map[string]any(m)
}
