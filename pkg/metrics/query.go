package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunUsage represents aggregated run metrics for one model deployment,
// read back from Prometheus rather than from in-process counters. This is
// the cross-process view: every client instance exporting foundry_* series
// contributes.
type RunUsage struct {
	Deployment       string `json:"deployment"`
	TotalRuns        int64  `json:"total_runs"`
	SuccessfulRuns   int64  `json:"successful_runs"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// ToolUsage represents aggregated dispatch metrics for one registered tool.
type ToolUsage struct {
	Tool       string `json:"tool"`
	Dispatches int64  `json:"dispatches"`
	Successes  int64  `json:"successes"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetRunUsage retrieves aggregated run and token metrics for a deployment.
func (q *QueryService) GetRunUsage(ctx context.Context, deployment string) (*RunUsage, error) {
	usage := &RunUsage{
		Deployment: deployment,
	}

	totalQuery := fmt.Sprintf(`sum(foundry_runs_total{deployment=%q})`, deployment)
	totalResult, _, err := q.queryAPI.Query(ctx, totalQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query total runs: %w", err)
	}
	if vector, ok := totalResult.(model.Vector); ok && len(vector) > 0 {
		usage.TotalRuns = int64(vector[0].Value)
	}

	successQuery := fmt.Sprintf(`sum(foundry_runs_total{deployment=%q, status="completed"})`, deployment)
	successResult, _, err := q.queryAPI.Query(ctx, successQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query successful runs: %w", err)
	}
	if vector, ok := successResult.(model.Vector); ok && len(vector) > 0 {
		usage.SuccessfulRuns = int64(vector[0].Value)
	}

	promptQuery := fmt.Sprintf(`sum(foundry_tokens_total{deployment=%q, type="prompt"})`, deployment)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		usage.PromptTokens = int64(vector[0].Value)
	}

	completionQuery := fmt.Sprintf(`sum(foundry_tokens_total{deployment=%q, type="completion"})`, deployment)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		usage.CompletionTokens = int64(vector[0].Value)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return usage, nil
}

// GetToolUsage retrieves dispatch metrics broken down by tool name. Tools
// with no dispatches in the retention window are absent from the map.
func (q *QueryService) GetToolUsage(ctx context.Context) (map[string]*ToolUsage, error) {
	result := make(map[string]*ToolUsage)

	dispatchQuery := `sum by (tool) (foundry_tool_dispatch_total)`
	dispatchResult, _, err := q.queryAPI.Query(ctx, dispatchQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query tool dispatches: %w", err)
	}
	if vector, ok := dispatchResult.(model.Vector); ok {
		for _, sample := range vector {
			if toolName, ok := sample.Metric["tool"]; ok {
				result[string(toolName)] = &ToolUsage{
					Tool:       string(toolName),
					Dispatches: int64(sample.Value),
				}
			}
		}
	}

	successQuery := `sum by (tool) (foundry_tool_dispatch_total{outcome="success"})`
	successResult, _, err := q.queryAPI.Query(ctx, successQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query tool successes: %w", err)
	}
	if vector, ok := successResult.(model.Vector); ok {
		for _, sample := range vector {
			toolName, ok := sample.Metric["tool"]
			if !ok {
				continue
			}
			if usage, exists := result[string(toolName)]; exists {
				usage.Successes = int64(sample.Value)
			}
		}
	}

	return result, nil
}
