package tools

import (
	"context"
	"strings"
	"time"

	"foundry/pkg/utils"
)

// KnowledgeBaseTool answers knowledge-base queries from a canned document
// set. It stands in for a retrieval backend (Azure AI Search, a vector
// store) so the agent loop can be exercised end to end without one.
type KnowledgeBaseTool struct {
	docs []kbDocument
}

type kbDocument struct {
	Title   string
	Content string
	Source  string
}

func NewKnowledgeBaseTool() *KnowledgeBaseTool {
	return &KnowledgeBaseTool{
		docs: []kbDocument{
			{
				Title:   "Company Policy: Remote Work",
				Content: "Remote work is permitted for all employees with manager approval. Equipment stipends are available.",
				Source:  "policies/remote-work.pdf",
			},
			{
				Title:   "Support SLA Tiers",
				Content: "Enterprise customers receive 1-hour response SLAs; Standard customers receive next-business-day.",
				Source:  "support/sla-tiers.pdf",
			},
			{
				Title:   "Azure Onboarding Guide",
				Content: "New subscriptions are provisioned through the platform team. Cost alerts are enabled by default.",
				Source:  "cloud/azure-onboarding.pdf",
			},
		},
	}
}

func (t *KnowledgeBaseTool) Definition() Definition {
	return Definition{
		Name:        ToolQueryKnowledgeBase,
		Description: "Query the company's internal knowledge base for information about policies, procedures, products, or services. Use this when you need company-specific information that isn't publicly available. Returns relevant documents and their metadata.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "The search query (natural language)",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of results to return",
					Default:     5,
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *KnowledgeBaseTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	query, err := utils.GetMapField[string](args, "query")
	if err != nil {
		return nil, err
	}
	maxResults := int(utils.GetMapFieldOr[float64](args, "max_results", 5))
	if maxResults < 1 {
		maxResults = 1
	}

	results := make([]map[string]any, 0, maxResults)
	for _, doc := range t.docs {
		if len(results) == maxResults {
			break
		}
		results = append(results, map[string]any{
			"title":           doc.Title,
			"content":         doc.Content,
			"relevance_score": relevance(query, doc),
			"source":          doc.Source,
		})
	}

	return map[string]any{
		"query":         query,
		"results":       results,
		"total_results": len(results),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// relevance is a toy score: word overlap between the query and the
// document title, floored so every canned document surfaces.
func relevance(query string, doc kbDocument) float64 {
	score := 0.5
	title := strings.ToLower(doc.Title)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(title, word) {
			score += 0.15
		}
	}
	if score > 0.99 {
		score = 0.99
	}
	return score
}
