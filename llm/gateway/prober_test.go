//go:build cgo
// +build cgo

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProber(t *testing.T) (*Prober, *ProviderRegistry) {
	t.Helper()
	reg := newTestProviderRegistry(t)
	prober := NewProber(reg, testVaultForRegistry(t), nil, zap.NewNop())
	return prober, reg
}

func TestProber_Probe_ModelsEndpointOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	prober, reg := newTestProber(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Custom", Slug: "custom", BaseURL: srv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	result, err := prober.Probe(ctx, p.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "连接成功", result.Message)
}

func TestProber_Probe_ModelsNotFoundFallsForwardToChatPing(t *testing.T) {
	var sawChatPing bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			w.WriteHeader(http.StatusNotFound)
		case "/chat/completions":
			sawChatPing = true
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
		}
	}))
	defer srv.Close()

	prober, reg := newTestProber(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Kimi", Slug: "kimi", PresetID: "kimi", APIKey: "sk-x",
	})
	require.NoError(t, err)
	p, err = reg.Update(ctx, p.ID, UpdateProviderInput{BaseURL: strPtr(srv.URL)})
	require.NoError(t, err)

	result, err := prober.Probe(ctx, p.ID, "", "")
	require.NoError(t, err)
	assert.True(t, sawChatPing, "404 on /models must fall forward to a chat ping using the preset's test_model")
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "chat", result.TestType)
	assert.Equal(t, "moonshot-v1-8k", result.TestModelID)
}

func TestProber_Probe_AuthFailureReportsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}))
	defer srv.Close()

	prober, reg := newTestProber(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Custom", Slug: "custom", BaseURL: srv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	result, err := prober.Probe(ctx, p.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "API Key 无效或权限不足 (HTTP 401)", result.Message)
}

func TestProber_Probe_ConnectErrorReportsUnreachable(t *testing.T) {
	prober, reg := newTestProber(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Unreachable", Slug: "unreachable", BaseURL: "http://127.0.0.1:1", ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	result, err := prober.Probe(ctx, p.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "无法连接到 Provider", result.Message)
}

func TestProber_Probe_TestModelIDBypassesThreeStageStrategy(t *testing.T) {
	var sawEmbedding bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embeddings" {
			sawEmbedding = true
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	prober, reg := newTestProber(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Custom", Slug: "custom", BaseURL: srv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	result, err := prober.Probe(ctx, p.ID, "embedding", "text-embed-3")
	require.NoError(t, err)
	assert.True(t, sawEmbedding)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "text-embed-3", result.TestModelID)
}

func strPtr(s string) *string { return &s }
