package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"agentgate/internal/agents"
	"agentgate/internal/ids"
	"agentgate/internal/logging"
	"agentgate/internal/orchestrator"
	"agentgate/internal/pipeline"
	"agentgate/internal/storage"
)

const maxAnswerBodySize = 1 << 20 // 1 MiB

const defaultSessionListLimit = 50

// APIHandler handles the REST endpoints.
type APIHandler struct {
	pipeline *pipeline.Pipeline
	orch     *orchestrator.Orchestrator
	store    storage.Store
	logger   logging.Logger
}

// NewAPIHandler creates a new API handler. Store may be nil when the
// deployment runs without persistence.
func NewAPIHandler(p *pipeline.Pipeline, orch *orchestrator.Orchestrator, store storage.Store) *APIHandler {
	return &APIHandler{
		pipeline: p,
		orch:     orch,
		store:    store,
		logger:   logging.NewComponentLogger("APIHandler"),
	}
}

// AnswerRequest is the POST /v1/answer body.
type AnswerRequest struct {
	Task      string         `json:"task"`
	AgentType string         `json:"agent_type"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// AnswerResponse is the POST /v1/answer reply for both outcomes.
type AnswerResponse struct {
	Success       bool           `json:"success"`
	Output        string         `json:"output,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	ElapsedMillis int64          `json:"elapsed_ms"`
	SessionID     string         `json:"session_id,omitempty"`
	MessageID     string         `json:"message_id,omitempty"`
	AgentType     string         `json:"agent_type,omitempty"`
	Usage         map[string]any `json:"usage,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// HandleAnswer handles POST /v1/answer: authenticate, validate, dispatch.
func (h *APIHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxAnswerBodySize)
	defer body.Close()

	var req AnswerRequest
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		writeRequestError(w, "UnsupportedField", "request body must contain a single JSON object")
		return
	}

	sessionID, err := isValidOptionalSessionID(req.SessionID)
	if err != nil {
		writeRequestError(w, "InvalidSessionID", err.Error())
		return
	}

	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeAuthError(w, "MalformedToken")
		return
	}

	outcome := h.pipeline.Run(r.Context(), pipeline.Request{
		Token:     token,
		Task:      req.Task,
		AgentType: req.AgentType,
		SessionID: sessionID,
		Context:   req.Context,
	})

	response := AnswerResponse{
		Success:   false,
		ErrorKind: outcome.ErrorKind,
		Error:     outcome.ErrorDetail,
		SessionID: outcome.SessionID,
		MessageID: outcome.MessageID,
		AgentType: string(outcome.AgentType),
	}
	if result := outcome.Result; result != nil {
		response.Success = result.Success
		response.Output = result.Output
		response.ElapsedMillis = result.ElapsedMillis
		response.Usage = result.Usage
		response.Metadata = result.Metadata
	}
	writeJSON(w, outcome.Status, response)
}

func (h *APIHandler) writeDecodeError(w http.ResponseWriter, err error) {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		writeRequestError(w, pipeline.ErrorKindEmptyTask, "request body is empty")
	case errors.As(err, &syntaxErr):
		writeRequestError(w, "InvalidJSON", fmt.Sprintf("invalid JSON at position %d", syntaxErr.Offset))
	case errors.As(err, &typeErr):
		writeRequestError(w, "UnsupportedField", fmt.Sprintf("invalid value for field %q", typeErr.Field))
	case errors.As(err, &maxBytesErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, AnswerResponse{
			Success: false, ErrorKind: "RequestTooLarge", Error: "request body too large",
		})
	default:
		writeRequestError(w, "UnsupportedField", "invalid request body")
	}
}

// AgentListResponse is the GET /v1/agents reply.
type AgentListResponse struct {
	Agents []orchestrator.Info `json:"agents"`
}

// HandleListAgents handles GET /v1/agents: capability discovery.
func (h *APIHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, AgentListResponse{Agents: h.orch.Describe()})
}

// CreateSessionRequest is the POST /v1/sessions body.
type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

// HandleCreateSession handles POST /v1/sessions: start an empty session
// ahead of the first answer request.
func (h *APIHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, "MalformedToken")
		return
	}

	var req CreateSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		body := http.MaxBytesReader(w, r.Body, maxAnswerBodySize)
		defer body.Close()
		decoder := json.NewDecoder(body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			h.writeDecodeError(w, err)
			return
		}
	}
	name := req.Name
	if name == "" {
		name = "New Session"
	}

	session := storage.Session{
		ID:        ids.NewSessionID(),
		UserID:    identity.SubjectID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if h.store != nil {
		if err := h.store.CreateSession(r.Context(), session); err != nil {
			h.logger.Error("create session for %s: %v", identity.SubjectID, err)
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusCreated, SessionSummary{
		ID:        session.ID,
		Name:      session.Name,
		CreatedAt: session.CreatedAt,
	})
}

// SessionSummary is one entry in the GET /v1/sessions reply.
type SessionSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionListResponse is the GET /v1/sessions reply.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// HandleListSessions handles GET /v1/sessions for the authenticated user.
func (h *APIHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, "MalformedToken")
		return
	}
	if h.store == nil {
		writeJSON(w, http.StatusOK, SessionListResponse{Sessions: []SessionSummary{}})
		return
	}

	limit := defaultSessionListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeRequestError(w, "InvalidLimit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.store.ListSessions(r.Context(), identity.SubjectID, limit)
	if err != nil {
		h.logger.Error("list sessions for %s: %v", identity.SubjectID, err)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:        session.ID,
			Name:      session.Name,
			CreatedAt: session.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: summaries})
}

// HealthResponse is the GET /v1/health reply.
type HealthResponse struct {
	Status          string        `json:"status"`
	AvailableAgents []agents.Type `json:"available_agents"`
	Timestamp       time.Time     `json:"timestamp"`
}

// HandleHealth handles GET /v1/health. The gateway is healthy as long as it
// can serve; individual agent availability is reported, not required.
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		AvailableAgents: h.orch.ListAvailable(),
		Timestamp:       time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRequestError(w http.ResponseWriter, kind, detail string) {
	writeJSON(w, http.StatusBadRequest, AnswerResponse{
		Success:   false,
		ErrorKind: kind,
		Error:     detail,
	})
}

func writeAuthError(w http.ResponseWriter, kind string) {
	writeJSON(w, http.StatusUnauthorized, AnswerResponse{
		Success:   false,
		ErrorKind: kind,
		Error:     "authentication failed",
	})
}
