package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/agents"
	"agentgate/internal/auth"
	"agentgate/internal/config"
	"agentgate/internal/orchestrator"
	"agentgate/internal/pipeline"
	"agentgate/internal/storage"
)

type staticVerifier struct {
	identity auth.Identity
	err      error
}

func (v *staticVerifier) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	if v.err != nil {
		return auth.Identity{}, v.err
	}
	return v.identity, nil
}

func testOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	builders := map[agents.Type]orchestrator.Builder{
		agents.TypePraisonAI: func(ctx context.Context) (agents.Adapter, error) {
			return &echoAdapter{agentType: agents.TypePraisonAI}, nil
		},
		agents.TypeCrewAI: func(ctx context.Context) (agents.Adapter, error) {
			return nil, errors.New("endpoint not configured")
		},
		agents.TypeAG2: func(ctx context.Context) (agents.Adapter, error) {
			return &echoAdapter{agentType: agents.TypeAG2}, nil
		},
	}
	cfg := config.AgentsConfig{ExecDeadline: time.Second, MaxConcurrent: 4}
	return orchestrator.New(context.Background(), cfg, builders)
}

type echoAdapter struct {
	agentType agents.Type
}

func (a *echoAdapter) Type() agents.Type { return a.agentType }

func (a *echoAdapter) Execute(ctx context.Context, task string, taskContext map[string]any) (*agents.Result, error) {
	return &agents.Result{Success: true, Output: "echo: " + task}, nil
}

func newTestServer(t *testing.T, verifier TokenVerifier, store storage.Store) *httptest.Server {
	t.Helper()
	orch := testOrchestrator(t)
	p := pipeline.New(verifier, orch, store)
	server := httptest.NewServer(NewRouter(RouterConfig{
		Pipeline:     p,
		Orchestrator: orch,
		Verifier:     verifier,
		Store:        store,
		Environment:  "development",
	}))
	t.Cleanup(server.Close)
	return server
}

func postAnswer(t *testing.T, server *httptest.Server, token string, payload any) (*http.Response, AnswerResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/answer", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded AnswerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAnswerSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, store)

	resp, answer := postAnswer(t, server, "valid-token", AnswerRequest{
		Task: "summarize the report", AgentType: "praisonai",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, answer.Success)
	assert.Equal(t, "echo: summarize the report", answer.Output)
	assert.Equal(t, "praisonai", answer.AgentType)
	assert.NotEmpty(t, answer.SessionID)
	assert.NotEmpty(t, answer.MessageID)
}

func TestAnswerUnknownAgentType(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "valid-token", AnswerRequest{
		Task: "summarize", AgentType: "typeZ",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, answer.Success)
	assert.Equal(t, "UnknownAgentType", answer.ErrorKind)
}

func TestAnswerExpiredToken(t *testing.T) {
	server := newTestServer(t, &staticVerifier{err: &auth.Error{Kind: auth.KindExpiredToken}}, nil)

	resp, answer := postAnswer(t, server, "stale-token", AnswerRequest{
		Task: "summarize", AgentType: "praisonai",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, answer.Success)
	assert.Equal(t, "ExpiredToken", answer.ErrorKind)
}

func TestAnswerMissingToken(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "", AnswerRequest{
		Task: "summarize", AgentType: "praisonai",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MalformedToken", answer.ErrorKind)
}

func TestAnswerEmptyTask(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "valid-token", AnswerRequest{AgentType: "praisonai"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "EmptyTask", answer.ErrorKind)
}

func TestAnswerUnavailableAgentStays200(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "valid-token", AnswerRequest{
		Task: "summarize", AgentType: "crewai",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, answer.Success)
	assert.Equal(t, "AgentUnavailable", answer.ErrorKind)
}

func TestAnswerRejectsUnknownField(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "valid-token", map[string]any{
		"task": "summarize", "agent_type": "praisonai", "surprise": true,
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UnsupportedField", answer.ErrorKind)
}

func TestAnswerRejectsBadSessionID(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	resp, answer := postAnswer(t, server, "valid-token", AnswerRequest{
		Task: "summarize", AgentType: "praisonai", SessionID: "nope; DROP TABLE",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidSessionID", answer.ErrorKind)
}

func TestListAgents(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/agents", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing AgentListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Agents, 3)

	available := make(map[agents.Type]bool)
	for _, info := range listing.Agents {
		available[info.Type] = info.Available
	}
	assert.True(t, available[agents.TypePraisonAI])
	assert.False(t, available[agents.TypeCrewAI])
	assert.True(t, available[agents.TypeAG2])
}

func TestListAgentsRequiresAuth(t *testing.T) {
	server := newTestServer(t, &staticVerifier{err: &auth.Error{Kind: auth.KindInvalidSignature}}, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/agents", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer forged-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateSession(context.Background(), storage.Session{
		ID: "session-1", UserID: "user-1", Name: "First", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateSession(context.Background(), storage.Session{
		ID: "session-2", UserID: "user-2", Name: "Someone else", CreatedAt: time.Now(),
	}))
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, store)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing SessionListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "session-1", listing.Sessions[0].ID)
}

func TestCreateSession(t *testing.T) {
	store := storage.NewMemoryStore()
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, store)

	body := bytes.NewReader([]byte(`{"name":"Research"}`))
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/sessions", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "Research", created.Name)
	assert.NotEmpty(t, created.ID)

	sessions, err := store.ListSessions(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	server := newTestServer(t, &staticVerifier{err: &auth.Error{Kind: auth.KindInvalidSignature}}, nil)

	resp, err := http.Get(server.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Contains(t, health.AvailableAgents, agents.TypePraisonAI)
	assert.NotContains(t, health.AvailableAgents, agents.TypeCrewAI)
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, &staticVerifier{identity: auth.Identity{SubjectID: "user-1"}}, nil)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/v1/answer", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer abc"))
	assert.Equal(t, "", extractBearerToken("abc"))
	assert.Equal(t, "", extractBearerToken(""))
	assert.Equal(t, "", extractBearerToken("Basic abc"))
}

func TestSessionIDValidation(t *testing.T) {
	valid, err := isValidOptionalSessionID("  session-abc_123  ")
	require.NoError(t, err)
	assert.Equal(t, "session-abc_123", valid)

	empty, err := isValidOptionalSessionID("")
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	_, err = isValidOptionalSessionID("bad/id")
	assert.Error(t, err)
}
