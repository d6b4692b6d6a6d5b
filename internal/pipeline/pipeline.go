package pipeline

import (
	"context"
	"time"

	"agentgate/internal/agents"
	"agentgate/internal/auth"
	"agentgate/internal/ids"
	"agentgate/internal/logging"
	"agentgate/internal/observability"
	"agentgate/internal/orchestrator"
	"agentgate/internal/storage"
)

// State tracks how far a request made it through the pipeline. Transitions
// only move forward; a request that fails a stage stops there.
type State int

const (
	StateReceived State = iota
	StateAuthenticated
	StateValidated
	StateDispatched
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAuthenticated:
		return "authenticated"
	case StateValidated:
		return "validated"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// TokenVerifier authenticates a bearer credential.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (auth.Identity, error)
}

// Dispatcher routes a validated request to an agent backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req orchestrator.Request) *agents.Result
}

// Request is one raw answer request before authentication.
type Request struct {
	Token     string
	Task      string
	AgentType string
	SessionID string
	Context   map[string]any
}

// Outcome is the pipeline's terminal verdict for one request.
type Outcome struct {
	Status      int
	State       State
	Identity    auth.Identity
	SessionID   string
	MessageID   string
	AgentType   agents.Type
	Result      *agents.Result
	ErrorKind   string
	ErrorDetail string
}

const (
	// ErrorKindEmptyTask rejects requests whose task is blank.
	ErrorKindEmptyTask = "EmptyTask"

	maxSessionNameTask = 50
)

// Pipeline runs each answer request through authenticate, validate,
// dispatch, and record stages.
type Pipeline struct {
	verifier       TokenVerifier
	dispatcher     Dispatcher
	store          storage.Store
	logger         logging.Logger
	metrics        *observability.MetricsCollector
	persistTimeout time.Duration
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// WithPersistTimeout bounds the background persistence pass.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) { p.persistTimeout = timeout }
}

// New constructs the pipeline. Store may be nil, which disables persistence.
func New(verifier TokenVerifier, dispatcher Dispatcher, store storage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		verifier:       verifier,
		dispatcher:     dispatcher,
		store:          store,
		logger:         logging.NewComponentLogger("Pipeline"),
		persistTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pushes one request through the pipeline and returns the terminal
// outcome. Dispatch failures are carried in the result body with a 200
// status; only authentication and validation failures change the status.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	outcome := Outcome{Status: 200, State: StateReceived}

	identity, err := p.verifier.Verify(ctx, req.Token)
	if err != nil {
		kind := string(auth.KindOf(err))
		p.logger.Warn("authentication failed: kind=%s err=%v", kind, err)
		outcome.Status = 401
		outcome.State = StateFailed
		outcome.ErrorKind = kind
		outcome.ErrorDetail = "authentication failed"
		return outcome
	}
	outcome.Identity = identity
	outcome.State = StateAuthenticated

	if req.Task == "" {
		outcome.Status = 400
		outcome.State = StateFailed
		outcome.ErrorKind = ErrorKindEmptyTask
		outcome.ErrorDetail = "task must not be empty"
		return outcome
	}
	agentType, ok := agents.ParseType(req.AgentType)
	if !ok {
		outcome.Status = 400
		outcome.State = StateFailed
		outcome.ErrorKind = string(agents.ErrorKindUnknownAgentType)
		outcome.ErrorDetail = "unknown agent type: " + req.AgentType
		return outcome
	}
	outcome.AgentType = agentType
	outcome.State = StateValidated

	sessionID := req.SessionID
	newSession := sessionID == ""
	if newSession {
		sessionID = ids.NewSessionID()
		p.metrics.RecordSessionCreated(ctx)
	}
	outcome.SessionID = sessionID
	outcome.MessageID = ids.NewMessageID()

	outcome.State = StateDispatched
	result := p.dispatcher.Dispatch(ctx, orchestrator.Request{
		Task:      req.Task,
		AgentType: agentType,
		SessionID: sessionID,
		Context:   req.Context,
	})
	outcome.Result = result
	if result.Success {
		outcome.State = StateCompleted
	} else {
		outcome.State = StateFailed
		outcome.ErrorKind = string(result.ErrorKind)
		outcome.ErrorDetail = result.ErrorDetail()
	}

	p.record(req, outcome, newSession)
	return outcome
}

// record persists the exchange off the request path. Failures are logged;
// the caller's response never waits on storage.
func (p *Pipeline) record(req Request, outcome Outcome, newSession bool) {
	if p.store == nil {
		return
	}

	assistantID := ids.NewMessageID()
	executionID := ids.NewExecutionID()
	now := time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.persistTimeout)
		defer cancel()

		userID := outcome.Identity.SubjectID
		if newSession {
			if err := p.store.CreateSession(ctx, storage.Session{
				ID:        outcome.SessionID,
				UserID:    userID,
				Name:      sessionName(req.Task),
				CreatedAt: now,
			}); err != nil {
				p.logger.Error("persist session %s: %v", outcome.SessionID, err)
			}
		}

		if err := p.store.SaveMessage(ctx, storage.Message{
			ID:        outcome.MessageID,
			SessionID: outcome.SessionID,
			UserID:    userID,
			Role:      "user",
			Content:   req.Task,
			CreatedAt: now,
		}); err != nil {
			p.logger.Error("persist user message %s: %v", outcome.MessageID, err)
		}

		result := outcome.Result
		status := "completed"
		if !result.Success {
			status = "failed"
		}

		if err := p.store.SaveMessage(ctx, storage.Message{
			ID:        assistantID,
			SessionID: outcome.SessionID,
			UserID:    userID,
			Role:      "assistant",
			Content:   result.Output,
			Metadata:  result.Metadata,
			CreatedAt: now,
		}); err != nil {
			p.logger.Error("persist assistant message %s: %v", assistantID, err)
		}

		if err := p.store.SaveExecution(ctx, storage.Execution{
			ID:            executionID,
			SessionID:     outcome.SessionID,
			UserID:        userID,
			AgentType:     string(outcome.AgentType),
			Task:          req.Task,
			Status:        status,
			Result:        result.Output,
			ErrorMessage:  result.ErrorDetail(),
			ElapsedMillis: result.ElapsedMillis,
			Usage:         result.Usage,
			Metadata:      result.Metadata,
			CreatedAt:     now,
		}); err != nil {
			p.logger.Error("persist execution %s: %v", executionID, err)
		}
	}()
}

func sessionName(task string) string {
	// Truncate on rune boundaries so multibyte tasks stay valid UTF-8.
	if runes := []rune(task); len(runes) > maxSessionNameTask {
		task = string(runes[:maxSessionNameTask]) + "..."
	}
	return "Agent Task - " + task
}
