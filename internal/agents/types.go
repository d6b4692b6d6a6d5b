package agents

import "context"

// Type tags one wrapped multi-agent execution backend. The set is closed:
// every tag is bound to exactly one adapter at registry build time.
type Type string

const (
	TypePraisonAI Type = "praisonai"
	TypeCrewAI    Type = "crewai"
	TypeAG2       Type = "ag2"
)

// AllTypes returns the closed set of agent types in declaration order.
func AllTypes() []Type {
	return []Type{TypePraisonAI, TypeCrewAI, TypeAG2}
}

// ParseType maps a request tag to an agent type. The legacy "autogen" tag
// maps to ag2 for callers that predate the rename.
func ParseType(value string) (Type, bool) {
	switch Type(value) {
	case TypePraisonAI, TypeCrewAI, TypeAG2:
		return Type(value), true
	}
	if value == "autogen" {
		return TypeAG2, true
	}
	return "", false
}

// ErrorKind classifies why an execution did not produce output.
type ErrorKind string

const (
	ErrorKindUnknownAgentType    ErrorKind = "UnknownAgentType"
	ErrorKindAgentUnavailable    ErrorKind = "AgentUnavailable"
	ErrorKindFrameworkRuntimeErr ErrorKind = "FrameworkRuntimeError"
	ErrorKindTimeout             ErrorKind = "Timeout"
	ErrorKindCancelled           ErrorKind = "Cancelled"
)

// Result is the normalized outcome shared by all backends.
// Success is true exactly when ErrorKind is empty and Output is present.
type Result struct {
	Success       bool           `json:"success"`
	Output        string         `json:"output,omitempty"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	ElapsedMillis int64          `json:"elapsed_ms"`
	Usage         map[string]any `json:"usage,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Failure builds a failed result with the raw error summary in metadata.
func Failure(kind ErrorKind, detail string) *Result {
	metadata := map[string]any{}
	if detail != "" {
		metadata["error"] = detail
	}
	return &Result{
		Success:   false,
		ErrorKind: kind,
		Metadata:  metadata,
	}
}

// ErrorDetail returns the raw error summary recorded by Failure, if any.
func (r *Result) ErrorDetail() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	detail, _ := r.Metadata["error"].(string)
	return detail
}

// Adapter presents one wrapped backend as a uniform execute operation.
// Implementations are stateless with respect to the orchestrator; any state
// belongs to the wrapped backend.
type Adapter interface {
	Type() Type
	// Execute runs the task against the wrapped backend. It returns a
	// successful Result or an error; mapping errors into result shape is
	// the orchestrator's job. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, task string, taskContext map[string]any) (*Result, error)
}
