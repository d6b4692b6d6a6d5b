package agents

import (
	"context"
	"fmt"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

// CrewAdapter wraps a CrewAI serving endpoint. The backend kicks off a
// single-researcher crew and returns the final answer as one string.
type CrewAdapter struct {
	client *backendClient
}

// NewCrewAdapter constructs the adapter and performs the startup handshake.
func NewCrewAdapter(ctx context.Context, cfg config.BackendConfig, probeTimeout time.Duration) (*CrewAdapter, error) {
	client, err := newBackendClient(cfg, logging.NewComponentLogger("CrewAdapter"))
	if err != nil {
		return nil, fmt.Errorf("crewai: %w", err)
	}
	if err := client.probe(ctx, probeTimeout); err != nil {
		return nil, fmt.Errorf("crewai: %w", err)
	}
	return &CrewAdapter{client: client}, nil
}

func (a *CrewAdapter) Type() Type {
	return TypeCrewAI
}

type crewKickoffRequest struct {
	Inputs  map[string]any `json:"inputs"`
	Process string         `json:"process"`
}

type crewKickoffResponse struct {
	Result     string         `json:"result"`
	TokenUsage map[string]any `json:"token_usage"`
}

// Execute kicks off the crew and waits for its result.
func (a *CrewAdapter) Execute(ctx context.Context, task string, taskContext map[string]any) (*Result, error) {
	req := crewKickoffRequest{
		Inputs: map[string]any{
			"description":     fmt.Sprintf("Research and analyze: %s\nContext: %s", task, contextSummary(taskContext)),
			"expected_output": "Comprehensive analysis with insights and recommendations",
		},
		Process: "sequential",
	}

	var resp crewKickoffResponse
	if err := a.client.postJSON(ctx, "/kickoff", req, &resp); err != nil {
		return nil, err
	}

	output := resp.Result
	if output == "" {
		output = "No response generated"
	}

	usage := map[string]any{"framework": "crewai"}
	for k, v := range resp.TokenUsage {
		usage[k] = v
	}

	return &Result{
		Success: true,
		Output:  output,
		Usage:   usage,
		Metadata: map[string]any{
			"framework":   "crewai",
			"agents_used": 1,
		},
	}, nil
}
