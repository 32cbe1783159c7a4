//go:build cgo
// +build cgo

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/types"
)

func newTestRouter(t *testing.T) (*Router, *ProviderRegistry, *SlotRegistry) {
	t.Helper()
	db := setupGatewayDB(t)
	v := testVaultForRegistry(t)
	providers := NewProviderRegistry(db, v, nil, zap.NewNop())
	slots := NewSlotRegistry(db, zap.NewNop(), providers.Get)
	adapter := NewAdapter(v, nil, zap.NewNop())
	router := NewRouter(slots, providers, adapter, zap.NewNop())
	return router, providers, slots
}

func okChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "served-model",
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"content": content}}},
			"usage":   map[string]any{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
		})
	}))
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
}

func TestRouter_Chat_PrimarySucceeds_NoFallover(t *testing.T) {
	router, providers, slots := newTestRouter(t)
	ctx := context.Background()

	primarySrv := okChatServer(t, "hello from primary")
	defer primarySrv.Close()

	p, err := providers.Create(ctx, CreateProviderInput{
		Name: "Primary", Slug: "primary", BaseURL: primarySrv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-a",
	})
	require.NoError(t, err)

	_, err = slots.Configure(ctx, ConfigureSlotInput{SlotType: SlotFast, PrimaryProviderID: p.ID, PrimaryModelID: "m1", IsEnabled: true})
	require.NoError(t, err)

	resp, decision, err := router.Chat(ctx, SlotFast, ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello from primary", resp.Content)
	assert.False(t, decision.UsedFallback)
	assert.Equal(t, "Primary", decision.ProviderName)
	require.Len(t, decision.Trace, 1)
	assert.True(t, decision.Trace[0].Success)
}

func TestRouter_Chat_PrimaryFails_FallsOverToSecondary(t *testing.T) {
	router, providers, slots := newTestRouter(t)
	ctx := context.Background()

	primarySrv := failingServer(t)
	defer primarySrv.Close()
	fallbackSrv := okChatServer(t, "hello from fallback")
	defer fallbackSrv.Close()

	primary, err := providers.Create(ctx, CreateProviderInput{
		Name: "Primary", Slug: "primary", BaseURL: primarySrv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-a",
	})
	require.NoError(t, err)
	fallback, err := providers.Create(ctx, CreateProviderInput{
		Name: "Fallback", Slug: "fallback", BaseURL: fallbackSrv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-b",
	})
	require.NoError(t, err)

	_, err = slots.Configure(ctx, ConfigureSlotInput{
		SlotType: SlotFast, PrimaryProviderID: primary.ID, PrimaryModelID: "m1",
		FallbackChain: []ModelRef{{ProviderID: fallback.ID, ModelID: "m2"}},
		IsEnabled:     true,
	})
	require.NoError(t, err)

	resp, decision, err := router.Chat(ctx, SlotFast, ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello from fallback", resp.Content)
	assert.True(t, decision.UsedFallback)
	assert.Equal(t, "Fallback", decision.ProviderName)
	require.Len(t, decision.Trace, 2)
	assert.False(t, decision.Trace[0].Success)
	assert.True(t, decision.Trace[1].Success)

	// used_fallback must be carried on the wire as used_resource_pool.
	wire, err := json.Marshal(decision)
	require.NoError(t, err)
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(wire, &asMap))
	assert.Equal(t, true, asMap["used_resource_pool"])
	_, hasOldName := asMap["used_fallback"]
	assert.False(t, hasOldName)
}

func TestRouter_Chat_AllFail_ReturnsAllModelsFailedWithTrace(t *testing.T) {
	router, providers, slots := newTestRouter(t)
	ctx := context.Background()

	srv1 := failingServer(t)
	defer srv1.Close()
	srv2 := failingServer(t)
	defer srv2.Close()

	p1, err := providers.Create(ctx, CreateProviderInput{Name: "P1", Slug: "p1", BaseURL: srv1.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-a"})
	require.NoError(t, err)
	p2, err := providers.Create(ctx, CreateProviderInput{Name: "P2", Slug: "p2", BaseURL: srv2.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-b"})
	require.NoError(t, err)

	_, err = slots.Configure(ctx, ConfigureSlotInput{
		SlotType: SlotFast, PrimaryProviderID: p1.ID, PrimaryModelID: "m1",
		FallbackChain: []ModelRef{{ProviderID: p2.ID, ModelID: "m2"}},
		IsEnabled:     true,
	})
	require.NoError(t, err)

	_, _, err = router.Chat(ctx, SlotFast, ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrAllModelsFailed, gwErr.Code)
	trace, ok := gwErr.Details["failover_trace"].([]AttemptRecord)
	require.True(t, ok)
	require.Len(t, trace, 2)
}

func TestRouter_Chat_SlotNotConfigured(t *testing.T) {
	router, _, _ := newTestRouter(t)
	_, _, err := router.Chat(context.Background(), SlotRerank, ChatRequest{})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrSlotNotConfigured, gwErr.Code)
}
