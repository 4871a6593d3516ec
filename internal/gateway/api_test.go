// ABOUTME: Tests for the gateway HTTP surface
// ABOUTME: Exercises chat streaming end-to-end against the scripted provider and mock store

package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/llm"
	"github.com/2389/loom-gateway/internal/memory"
	"github.com/2389/loom-gateway/internal/session"
	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
)

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func newTestAPI(t *testing.T, provider llm.Provider) (*API, *session.Registry, *store.MockStore) {
	t.Helper()

	mockStore := store.NewMockStore()
	registry := session.NewRegistry(mockStore, nil, nil, nil)
	limits := memory.Limits{
		MaxAge:                     config.DefaultMaxAge,
		MaxInactivity:              config.DefaultMaxInactivity,
		MaxMessagesPerConversation: config.DefaultMaxMessages,
		MaxMemoryBytes:             config.DefaultMaxMemoryBytes,
		PressureThreshold:          config.DefaultPressureThreshold,
		SweepInterval:              config.DefaultSweepInterval,
		PressureInterval:           config.DefaultPressureInterval,
	}
	optimizer := memory.NewOptimizer(registry, mockStore, limits, nil, nil)
	pipeline := stream.New(stream.DefaultConfig(), nil, nil)

	api := New(registry, optimizer, pipeline, provider, mockStore, nil)
	return api, registry, mockStore
}

func TestAPI_Chat_StreamsResponse(t *testing.T) {
	provider := llm.NewScriptedProvider("He", "llo", " ", "world")
	api, registry, mockStore := newTestAPI(t, provider)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
		strings.NewReader(`{"conversation_id": "c1", "user_id": "u1", "message": "hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body := readAll(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello world", body)

	// Session registered and counted: one user message, one assistant message
	s, ok := registry.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, int64(2), s.MessageCount)

	// Both messages persisted
	assert.Equal(t, 2, mockStore.Count("c1"))
}

func TestAPI_Chat_ReusesSession(t *testing.T) {
	provider := llm.NewScriptedProvider("ok")
	api, registry, _ := newTestAPI(t, provider)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
			strings.NewReader(`{"conversation_id": "c1", "message": "hi"}`))
		require.NoError(t, err)
		readAll(t, resp)
		resp.Body.Close()
	}

	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, int64(1), registry.TotalConversations())
	// Two activity updates per request: user message and assistant reply
	assert.Equal(t, int64(6), registry.TotalMessages())
}

func TestAPI_Chat_BadRequest(t *testing.T) {
	api, _, _ := newTestAPI(t, llm.NewScriptedProvider())
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
		strings.NewReader(`{"message": "no conversation id"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_EndConversation(t *testing.T) {
	api, registry, _ := newTestAPI(t, llm.NewScriptedProvider("ok"))
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	registry.Register("c1", "", "api")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/conversations/c1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, registry.Len())

	// Removing again is a 404
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Stats(t *testing.T) {
	api, registry, _ := newTestAPI(t, llm.NewScriptedProvider())
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	registry.Register("c1", "", "api")

	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	body := readAll(t, resp)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"active_sessions":1`)
}

func TestAPI_Health(t *testing.T) {
	api, _, _ := newTestAPI(t, llm.NewScriptedProvider())
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
