package toolkit

import (
	"context"
	"fmt"

	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/vectorstore"
	"github.com/codesage-ai/codesage/pkg/models"
)

// SemanticSearchTool is the one built-in tool the system ships: a
// query over the Tiered Vector Store. Filesystem tools (read_file,
// grep_file, ...) are an IDE-host concern and are registered by the
// caller, not provided here.
type SemanticSearchTool struct {
	ProjectKey string
	Embed      *embedclient.Client
	Store      *vectorstore.Store
	// TopK bounds returned hits. Default 5.
	TopK int
}

// Name implements Tool.
func (t *SemanticSearchTool) Name() string { return "semantic_search" }

// Params implements Tool.
func (t *SemanticSearchTool) Params() []models.ToolParamSpec {
	return []models.ToolParamSpec{
		{Name: "query", Type: "string", Required: true, Description: "natural-language search query"},
	}
}

// Execute embeds params["query"] and ranks it against the project's
// stored fragments.
func (t *SemanticSearchTool) Execute(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return &models.ToolResult{Success: false, Error: "semantic_search: query parameter is required"}, nil
	}

	topK := t.TopK
	if topK <= 0 {
		topK = 5
	}

	vector, _, err := t.Embed.Embed(ctx, query)
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("semantic_search: embed query: %v", err)}, nil
	}

	hits, err := t.Store.Search(ctx, t.ProjectKey, vector, topK)
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("semantic_search: store search: %v", err)}, nil
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"id":      h.Fragment.ID,
			"title":   h.Fragment.Title,
			"content": h.Fragment.Content,
			"score":   h.Score,
		})
	}
	return &models.ToolResult{Success: true, Data: results}, nil
}
