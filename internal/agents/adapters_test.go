package agents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/config"
)

func backendServer(t *testing.T, path string, respond func() any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respond())
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestParseType(t *testing.T) {
	for _, tag := range []string{"praisonai", "crewai", "ag2"} {
		parsed, ok := ParseType(tag)
		require.True(t, ok, tag)
		assert.Equal(t, Type(tag), parsed)
	}

	// Legacy tag maps onto the renamed backend.
	parsed, ok := ParseType("autogen")
	require.True(t, ok)
	assert.Equal(t, TypeAG2, parsed)

	_, ok = ParseType("typeZ")
	assert.False(t, ok)
}

func TestPraisonAdapterMapsStructuredOutput(t *testing.T) {
	server := backendServer(t, "/api/v1/runs", func() any {
		return map[string]any{
			"title":      "Quarterly revenue",
			"content":    "Revenue grew 12%.",
			"summary":    "Growth quarter.",
			"key_points": []string{"12% growth", "new regions"},
			"usage":      map[string]any{"total": 420},
		}
	})

	adapter, err := NewPraisonAdapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypePraisonAI, adapter.Type())

	result, err := adapter.Execute(context.Background(), "summarize revenue", nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "Title: Quarterly revenue")
	assert.Contains(t, result.Output, "Summary: Growth quarter.")
	assert.Contains(t, result.Output, "- 12% growth")
	assert.Equal(t, "praisonai", result.Usage["framework"])
	assert.Equal(t, float64(420), result.Usage["total"])
	assert.Equal(t, 1, result.Metadata["agents_used"])
}

func TestCrewAdapterMapsResult(t *testing.T) {
	server := backendServer(t, "/kickoff", func() any {
		return map[string]any{
			"result":      "The market is expanding.",
			"token_usage": map[string]any{"total": 99},
		}
	})

	adapter, err := NewCrewAdapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)

	result, err := adapter.Execute(context.Background(), "analyze market", map[string]any{"region": "EU"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "The market is expanding.", result.Output)
	assert.Equal(t, "crewai", result.Usage["framework"])
}

func TestAG2AdapterExtractsLastAssistantMessage(t *testing.T) {
	server := backendServer(t, "/v1/conversations", func() any {
		return map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": "Task: hello"},
				{"role": "assistant", "content": "first pass"},
				{"role": "assistant", "content": "final answer"},
			},
		}
	})

	adapter, err := NewAG2Adapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)

	result, err := adapter.Execute(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, "final answer", result.Output)
	assert.Equal(t, 2, result.Metadata["agents_used"])
}

func TestAG2AdapterNoAssistantReply(t *testing.T) {
	server := backendServer(t, "/v1/conversations", func() any {
		return map[string]any{"messages": []map[string]any{}}
	})

	adapter, err := NewAG2Adapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)

	result, err := adapter.Execute(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "No response generated", result.Output)
}

func TestAdapterConstructionFailsWithoutEndpoint(t *testing.T) {
	_, err := NewPraisonAdapter(context.Background(), config.BackendConfig{}, time.Second)
	require.Error(t, err)
}

func TestAdapterConstructionFailsOnHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewCrewAdapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestExecuteSurfacesBackendError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/kickoff", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter, err := NewCrewAdapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)

	_, err = adapter.Execute(context.Background(), "task", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the client finishes writing the request and
		// its deadline, not the handler, decides when the call ends.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	defer close(release)

	adapter, err := NewAG2Adapter(context.Background(), config.BackendConfig{BaseURL: server.URL}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = adapter.Execute(ctx, "task", nil)
	require.Error(t, err)
}
