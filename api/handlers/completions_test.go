//go:build cgo

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
)

func newTestCompletionHandler(t *testing.T, upstream *httptest.Server) (*CompletionHandler, *gateway.ProviderRegistry) {
	t.Helper()
	db := setupProviderHandlerDB(t)
	v := testVaultForHandlers(t)
	registry := gateway.NewProviderRegistry(db, v, nil, zap.NewNop())
	adapter := gateway.NewAdapter(v, upstream.Client(), zap.NewNop())
	return NewCompletionHandler(registry, adapter, zap.NewNop()), registry
}

func TestCompletionHandler_HandleCompletions_MissingProviderID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	}))
	defer upstream.Close()

	h, _ := newTestCompletionHandler(t, upstream)

	body, _ := json.Marshal(directChatRequest{})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	h.HandleCompletions(w, r)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCompletionHandler_HandleCompletions_UpstreamErrorPropagatesAs502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()

	h, registry := newTestCompletionHandler(t, upstream)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	p, err := registry.Create(ctx, gateway.CreateProviderInput{
		Name: "Test", Slug: "test", ProviderType: gateway.ProviderTypeOpenAICompat,
		BaseURL: upstream.URL, APIKey: "sk-test",
	})
	require.NoError(t, err)

	body, _ := json.Marshal(directChatRequest{
		ProviderID: p.ID,
		ChatRequest: gateway.ChatRequest{
			Model:    "m1",
			Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}},
		},
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	h.HandleCompletions(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UPSTREAM_ERROR", resp.Error.Code)
}

func TestCompletionHandler_HandleCompletions_Success(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2},"model":"m1"}`))
	}))
	defer upstream.Close()

	h, registry := newTestCompletionHandler(t, upstream)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	p, err := registry.Create(ctx, gateway.CreateProviderInput{
		Name: "Test", Slug: "test", ProviderType: gateway.ProviderTypeOpenAICompat,
		BaseURL: upstream.URL, APIKey: "sk-test",
	})
	require.NoError(t, err)

	body, _ := json.Marshal(directChatRequest{
		ProviderID: p.ID,
		ChatRequest: gateway.ChatRequest{
			Model:    "m1",
			Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}},
		},
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/llm/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	h.HandleCompletions(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
