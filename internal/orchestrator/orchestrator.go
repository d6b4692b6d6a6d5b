package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"agentgate/internal/agents"
	"agentgate/internal/config"
	"agentgate/internal/logging"
	"agentgate/internal/observability"
)

// Builder constructs the adapter for one agent type. Construction may fail
// (missing endpoint, failed handshake); the orchestrator records the failure
// instead of aborting startup.
type Builder func(ctx context.Context) (agents.Adapter, error)

// DefaultBuilders binds each agent type to its real backend adapter.
func DefaultBuilders(cfg config.AgentsConfig) map[agents.Type]Builder {
	return map[agents.Type]Builder{
		agents.TypePraisonAI: func(ctx context.Context) (agents.Adapter, error) {
			return agents.NewPraisonAdapter(ctx, cfg.PraisonAI, cfg.ProbeTimeout)
		},
		agents.TypeCrewAI: func(ctx context.Context) (agents.Adapter, error) {
			return agents.NewCrewAdapter(ctx, cfg.CrewAI, cfg.ProbeTimeout)
		},
		agents.TypeAG2: func(ctx context.Context) (agents.Adapter, error) {
			return agents.NewAG2Adapter(ctx, cfg.AG2, cfg.ProbeTimeout)
		},
	}
}

var descriptions = map[agents.Type]string{
	agents.TypePraisonAI: "Multi-agent orchestration with structured outputs",
	agents.TypeCrewAI:    "Collaborative AI agents for complex tasks",
	agents.TypeAG2:       "AutoGen conversation-based multi-agent system",
}

type registration struct {
	adapter agents.Adapter
	// available is false when construction failed; reason carries the
	// human-readable cause for discovery responses and logs.
	available bool
	reason    string
}

type registry map[agents.Type]*registration

// Request is one dispatchable execution request.
type Request struct {
	Task      string
	AgentType agents.Type
	SessionID string
	Context   map[string]any
}

// Info describes one registered agent type for the discovery endpoint.
type Info struct {
	Type        agents.Type `json:"type"`
	Available   bool        `json:"available"`
	Reason      string      `json:"reason,omitempty"`
	Description string      `json:"description"`
}

// Orchestrator owns the adapter registry and routes requests to backends.
// The registry is built once by capability probing and only ever replaced
// wholesale; concurrent dispatches never observe a partial update.
type Orchestrator struct {
	reg      atomic.Pointer[registry]
	builders map[agents.Type]Builder
	deadline time.Duration
	workers  *semaphore.Weighted
	logger   logging.Logger
	metrics  *observability.MetricsCollector
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New probes every configured agent type and builds the registry. Probe
// failures are logged and recorded per type; New itself never fails.
func New(ctx context.Context, cfg config.AgentsConfig, builders map[agents.Type]Builder, opts ...Option) *Orchestrator {
	deadline := cfg.ExecDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	o := &Orchestrator{
		builders: builders,
		deadline: deadline,
		workers:  semaphore.NewWeighted(maxConcurrent),
		logger:   logging.NewComponentLogger("Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.reg.Store(o.probe(ctx))
	return o
}

// Reload re-probes all builders and swaps the registry atomically.
func (o *Orchestrator) Reload(ctx context.Context) {
	o.reg.Store(o.probe(ctx))
}

func (o *Orchestrator) probe(ctx context.Context) *registry {
	reg := make(registry, len(o.builders))
	for agentType, build := range o.builders {
		adapter, err := build(ctx)
		if err != nil {
			o.logger.Warn("agent %q unavailable: %v", agentType, err)
			reg[agentType] = &registration{available: false, reason: err.Error()}
			continue
		}
		o.logger.Info("agent %q initialized and available", agentType)
		reg[agentType] = &registration{adapter: adapter, available: true}
	}
	return &reg
}

// ListAvailable returns the agent types that can currently serve requests.
func (o *Orchestrator) ListAvailable() []agents.Type {
	reg := *o.reg.Load()
	available := make([]agents.Type, 0, len(reg))
	for _, agentType := range agents.AllTypes() {
		if entry, ok := reg[agentType]; ok && entry.available {
			available = append(available, agentType)
		}
	}
	return available
}

// Describe returns registry details for every registered type.
func (o *Orchestrator) Describe() []Info {
	reg := *o.reg.Load()
	infos := make([]Info, 0, len(reg))
	for _, agentType := range agents.AllTypes() {
		entry, ok := reg[agentType]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			Type:        agentType,
			Available:   entry.available,
			Reason:      entry.reason,
			Description: descriptions[agentType],
		})
	}
	return infos
}

type callOutcome struct {
	result *agents.Result
	err    error
}

// Dispatch routes one request to its adapter, bounding the call with the
// configured deadline and worker pool. It always returns a Result; adapter
// failures of any kind are normalized, never propagated.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) *agents.Result {
	start := time.Now()
	result := o.dispatch(ctx, req, start)
	result.ElapsedMillis = time.Since(start).Milliseconds()

	outcome := "success"
	if !result.Success {
		outcome = string(result.ErrorKind)
	}
	o.metrics.RecordAgentExecution(ctx, string(req.AgentType), outcome, time.Since(start))
	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request, start time.Time) *agents.Result {
	reg := *o.reg.Load()

	entry, ok := reg[req.AgentType]
	if !ok {
		return agents.Failure(agents.ErrorKindUnknownAgentType,
			fmt.Sprintf("agent type %q is not registered", req.AgentType))
	}
	if !entry.available {
		return agents.Failure(agents.ErrorKindAgentUnavailable, entry.reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	if err := o.workers.Acquire(callCtx, 1); err != nil {
		if errors.Is(callCtx.Err(), context.Canceled) {
			o.logger.Warn("agent %q dispatch cancelled by caller while queued", req.AgentType)
			return agents.Failure(agents.ErrorKindCancelled, "request cancelled while waiting for a worker")
		}
		o.logger.Warn("agent %q dispatch timed out waiting for a worker", req.AgentType)
		return agents.Failure(agents.ErrorKindTimeout,
			fmt.Sprintf("no worker available within %s", o.deadline))
	}

	outcomes := make(chan callOutcome, 1)
	go func() {
		defer o.workers.Release(1)
		defer func() {
			if r := recover(); r != nil {
				outcomes <- callOutcome{err: fmt.Errorf("adapter panicked: %v", r)}
			}
		}()
		result, err := entry.adapter.Execute(callCtx, req.Task, req.Context)
		outcomes <- callOutcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		// The call is abandoned; the worker slot frees when the adapter
		// notices the dead context. A caller hanging up is reported as a
		// cancellation, not a deadline expiry.
		if errors.Is(callCtx.Err(), context.Canceled) {
			o.logger.Warn("agent %q execution cancelled by caller, elapsed=%s",
				req.AgentType, time.Since(start))
			return agents.Failure(agents.ErrorKindCancelled, "request cancelled by caller")
		}
		o.logger.Warn("agent %q execution abandoned after %s deadline, elapsed=%s",
			req.AgentType, o.deadline, time.Since(start))
		return agents.Failure(agents.ErrorKindTimeout,
			fmt.Sprintf("execution exceeded %s deadline", o.deadline))
	case outcome := <-outcomes:
		if outcome.err != nil {
			o.logger.Error("agent %q execution failed: %v", req.AgentType, outcome.err)
			return agents.Failure(agents.ErrorKindFrameworkRuntimeErr, outcome.err.Error())
		}
		if outcome.result == nil || outcome.result.Output == "" {
			return agents.Failure(agents.ErrorKindFrameworkRuntimeErr, "backend produced no output")
		}
		return outcome.result
	}
}
