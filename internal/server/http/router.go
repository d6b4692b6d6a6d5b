package http

import (
	"net/http"

	"agentgate/internal/logging"
	"agentgate/internal/observability"
	"agentgate/internal/orchestrator"
	"agentgate/internal/pipeline"
	"agentgate/internal/storage"
)

// RouterConfig carries the collaborators the router wires together.
type RouterConfig struct {
	Pipeline       *pipeline.Pipeline
	Orchestrator   *orchestrator.Orchestrator
	Verifier       TokenVerifier
	Store          storage.Store
	Metrics        *observability.MetricsCollector
	Environment    string
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all endpoints.
//
// /v1/answer performs its own authentication inside the pipeline so the
// failure can be reported in the response envelope; /v1/agents and
// /v1/sessions sit behind the auth middleware; /v1/health is open.
func NewRouter(cfg RouterConfig) http.Handler {
	apiHandler := NewAPIHandler(cfg.Pipeline, cfg.Orchestrator, cfg.Store)

	authMiddleware := AuthMiddleware(cfg.Verifier)

	mux := http.NewServeMux()
	mux.Handle("/v1/answer", http.HandlerFunc(apiHandler.HandleAnswer))
	mux.Handle("/v1/agents", authMiddleware(http.HandlerFunc(apiHandler.HandleListAgents)))
	mux.Handle("/v1/sessions", authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandler.HandleListSessions(w, r)
		case http.MethodPost:
			apiHandler.HandleCreateSession(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/v1/health", http.HandlerFunc(apiHandler.HandleHealth))

	if cfg.Metrics != nil {
		if metricsHandler := cfg.Metrics.Handler(); metricsHandler != nil {
			mux.Handle("/metrics", metricsHandler)
		}
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"service": "agentgate", "status": "ok"})
	})

	var handler http.Handler = mux
	handler = ObservabilityMiddleware(cfg.Metrics, logging.NewComponentLogger("HTTP"))(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)
	return handler
}
