package agents

import (
	"context"
	"fmt"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

// AG2Adapter wraps an AG2/AutoGen serving endpoint. The backend runs a short
// assistant/user-proxy conversation; the output is the assistant's last
// message.
type AG2Adapter struct {
	client *backendClient
}

// NewAG2Adapter constructs the adapter and performs the startup handshake.
func NewAG2Adapter(ctx context.Context, cfg config.BackendConfig, probeTimeout time.Duration) (*AG2Adapter, error) {
	client, err := newBackendClient(cfg, logging.NewComponentLogger("AG2Adapter"))
	if err != nil {
		return nil, fmt.Errorf("ag2: %w", err)
	}
	if err := client.probe(ctx, probeTimeout); err != nil {
		return nil, fmt.Errorf("ag2: %w", err)
	}
	return &AG2Adapter{client: client}, nil
}

func (a *AG2Adapter) Type() Type {
	return TypeAG2
}

type ag2Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ag2ConversationRequest struct {
	Messages []ag2Message `json:"messages"`
	MaxTurns int          `json:"max_turns"`
}

type ag2ConversationResponse struct {
	Messages []ag2Message   `json:"messages"`
	Usage    map[string]any `json:"usage"`
}

// Execute runs one conversation turn and extracts the assistant reply.
func (a *AG2Adapter) Execute(ctx context.Context, task string, taskContext map[string]any) (*Result, error) {
	req := ag2ConversationRequest{
		Messages: []ag2Message{
			{
				Role:    "user",
				Content: fmt.Sprintf("Task: %s\nContext: %s", task, contextSummary(taskContext)),
			},
		},
		MaxTurns: 1,
	}

	var resp ag2ConversationResponse
	if err := a.client.postJSON(ctx, "/v1/conversations", req, &resp); err != nil {
		return nil, err
	}

	output := lastAssistantMessage(resp.Messages)

	usage := map[string]any{"framework": "ag2"}
	for k, v := range resp.Usage {
		usage[k] = v
	}

	return &Result{
		Success: true,
		Output:  output,
		Usage:   usage,
		Metadata: map[string]any{
			"framework":   "ag2",
			"agents_used": 2,
		},
	}, nil
}

func lastAssistantMessage(messages []ag2Message) string {
	for n := len(messages) - 1; n >= 0; n-- {
		if messages[n].Role == "assistant" && messages[n].Content != "" {
			return messages[n].Content
		}
	}
	return "No response generated"
}
