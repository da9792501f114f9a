package tools

import (
	"context"
	"strings"
)

// ContextRetrieverName is the tool name the realtime model sees.
const ContextRetrieverName = "context_retriever"

// NoContext is returned to the model when the knowledge base has nothing relevant.
const NoContext = "No relevant context found."

// Retriever is satisfied by *rag.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// ContextRetriever looks up knowledge base text for a query during a call.
type ContextRetriever struct {
	retriever Retriever
}

func NewContextRetriever(r Retriever) *ContextRetriever {
	return &ContextRetriever{retriever: r}
}

func (c *ContextRetriever) Name() string { return ContextRetrieverName }

func (c *ContextRetriever) Description() string {
	return "Retrieves the relevant context or knowledge based on a provided query during a call."
}

func (c *ContextRetriever) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "A relevant query string used to fetch the required context.",
			},
		},
		"required": []any{"query"},
	}
}

func (c *ContextRetriever) Run(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return NoContext, nil
	}
	out, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	if out == "" {
		return NoContext, nil
	}
	return out, nil
}
