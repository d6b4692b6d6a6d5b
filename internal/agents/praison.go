package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

// PraisonAdapter wraps a PraisonAI serving endpoint. The backend runs a
// sequential analyst workflow and returns a structured document, which the
// adapter flattens into one output string.
type PraisonAdapter struct {
	client *backendClient
}

// NewPraisonAdapter constructs the adapter and performs the startup
// handshake with the backend. A handshake failure is a construction error;
// the orchestrator records it as unavailability.
func NewPraisonAdapter(ctx context.Context, cfg config.BackendConfig, probeTimeout time.Duration) (*PraisonAdapter, error) {
	client, err := newBackendClient(cfg, logging.NewComponentLogger("PraisonAdapter"))
	if err != nil {
		return nil, fmt.Errorf("praisonai: %w", err)
	}
	if err := client.probe(ctx, probeTimeout); err != nil {
		return nil, fmt.Errorf("praisonai: %w", err)
	}
	return &PraisonAdapter{client: client}, nil
}

func (a *PraisonAdapter) Type() Type {
	return TypePraisonAI
}

type praisonRunRequest struct {
	Task           string         `json:"task"`
	Context        string         `json:"context"`
	Process        string         `json:"process"`
	ExpectedOutput string         `json:"expected_output"`
	Options        map[string]any `json:"options,omitempty"`
}

type praisonRunResponse struct {
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Summary   string         `json:"summary"`
	KeyPoints []string       `json:"key_points"`
	Usage     map[string]any `json:"usage"`
}

// Execute runs the task through the backend's sequential workflow.
func (a *PraisonAdapter) Execute(ctx context.Context, task string, taskContext map[string]any) (*Result, error) {
	req := praisonRunRequest{
		Task:           task,
		Context:        contextSummary(taskContext),
		Process:        "sequential",
		ExpectedOutput: "Structured analysis with title, content, summary, and key points",
	}

	var resp praisonRunResponse
	if err := a.client.postJSON(ctx, "/api/v1/runs", req, &resp); err != nil {
		return nil, err
	}

	usage := map[string]any{"framework": "praisonai"}
	for k, v := range resp.Usage {
		usage[k] = v
	}

	return &Result{
		Success: true,
		Output:  formatStructuredOutput(resp),
		Usage:   usage,
		Metadata: map[string]any{
			"framework":   "praisonai",
			"agents_used": 1,
		},
	}, nil
}

// formatStructuredOutput mirrors the document layout clients already parse:
// title, content and summary paragraphs followed by bulleted key points.
func formatStructuredOutput(resp praisonRunResponse) string {
	if resp.Title == "" && resp.Content == "" && resp.Summary == "" {
		return "No response generated"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\nContent: %s\n\nSummary: %s", resp.Title, resp.Content, resp.Summary)
	if len(resp.KeyPoints) > 0 {
		b.WriteString("\n\nKey Points:")
		for _, point := range resp.KeyPoints {
			fmt.Fprintf(&b, "\n- %s", point)
		}
	}
	return b.String()
}
