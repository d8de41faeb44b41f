package toolkit

import (
	"context"
	"errors"
	"testing"

	"github.com/codesage-ai/codesage/pkg/models"
)

type echoTool struct {
	params []models.ToolParamSpec
	fail   bool
}

func (t *echoTool) Name() string                     { return "echo" }
func (t *echoTool) Params() []models.ToolParamSpec   { return t.params }
func (t *echoTool) Execute(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
	if t.fail {
		return nil, errors.New("boom")
	}
	return &models.ToolResult{Success: true, Data: params}, nil
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{params: []models.ToolParamSpec{
		{Name: "text", Type: "string", Required: true},
	}}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if !res.Success {
		t.Fatalf("Execute() success = false, error = %s", res.Error)
	}
}

func TestRegistry_MissingRequiredParamFails(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{params: []models.ToolParamSpec{
		{Name: "text", Type: "string", Required: true},
	}}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res := r.Execute(context.Background(), "echo", map[string]any{})
	if res.Success {
		t.Fatal("expected failure when required parameter is missing")
	}
}

func TestRegistry_ExtraneousKeysDropped(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{params: []models.ToolParamSpec{
		{Name: "text", Type: "string", Required: true},
	}}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res := r.Execute(context.Background(), "echo", map[string]any{"text": "hi", "bogus": 1})
	if !res.Success {
		t.Fatalf("Execute() success = false, error = %s", res.Error)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data is %T, want map[string]any", res.Data)
	}
	if _, present := data["bogus"]; present {
		t.Fatal("expected unknown key 'bogus' to be dropped before execution")
	}
}

func TestRegistry_UnknownToolFails(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "nope", nil)
	if res.Success {
		t.Fatal("expected failure for unregistered tool")
	}
}

func TestRegistry_ToolErrorBecomesFailedResult(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{fail: true}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	res := r.Execute(context.Background(), "echo", nil)
	if res.Success {
		t.Fatal("expected failure when tool returns an error")
	}
	if res.Error == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestRegistry_UnregisterRemovesTool(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{}
	_ = r.Register(tool)
	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Fatal("expected tool to be absent after Unregister")
	}
}
