package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/vault"
	"github.com/BaSui01/agentflow/types"
)

func testAdapterProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	key, err := vault.DeriveKey("adapter-test-key")
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)
	ciphertext, err := v.Encrypt("sk-test")
	require.NoError(t, err)
	return &Provider{
		ID: "p1", Name: "Test Provider", ProviderType: ProviderTypeOpenAICompat,
		BaseURL: baseURL, APIKeyCiphertext: ciphertext,
	}
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	key, err := vault.DeriveKey("adapter-test-key")
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)
	return NewAdapter(v, nil, zap.NewNop())
}

func TestAdapter_Chat_NormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = fmt.Fprint(w, `{"model":"m1","choices":[{"index":0,"finish_reason":"stop","message":{"content":"hi there"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	resp, err := a.Chat(context.Background(), p, ChatRequest{Model: "m1", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
	assert.Equal(t, "m1", resp.Model)
}

func TestAdapter_Chat_UpstreamErrorIsUniform502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	_, err := a.Chat(context.Background(), p, ChatRequest{Model: "m1"})
	require.Error(t, err)

	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrUpstreamError, gwErr.Code)
	assert.Equal(t, http.StatusBadGateway, gwErr.HTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, gwErr.Details["upstream_status"])
	assert.Contains(t, gwErr.Details["upstream_body"], "invalid api key")
}

func TestAdapter_Embed_SortsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"model":"emb","data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	resp, err := a.Embed(context.Background(), p, EmbeddingRequest{Model: "emb", Input: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, 0, resp.Embeddings[0].Index)
	assert.Equal(t, 1, resp.Embeddings[1].Index)
}

func TestAdapter_Rerank_SortsByRelevanceDescending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"model":"rr","results":[{"index":0,"document":"a","relevance_score":0.1},{"index":1,"document":"b","relevance_score":0.9}]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	resp, err := a.Rerank(context.Background(), p, RerankRequest{Model: "rr", Query: "q", Documents: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].Document)
	assert.InDelta(t, 0.9, resp.Results[0].RelevanceScore, 0.0001)
}

func TestAdapter_StreamChat_EmitsDeltasThenSyntheticDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"model":"m1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"model":"m1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"model":"m1","choices":[{"index":0,"finish_reason":"stop","delta":{"content":""}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		}
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	stream, err := a.StreamChat(context.Background(), p, ChatRequest{Model: "m1", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	var deltas []string
	var done *StreamSummary
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		if chunk.Done != nil {
			done = chunk.Done
			continue
		}
		if chunk.Delta != "" {
			deltas = append(deltas, chunk.Delta)
		}
	}

	require.NotNil(t, done)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, 3, done.Usage.TotalTokens)
	assert.Equal(t, "m1", done.Model)
}

func TestAdapter_StreamChat_CancellationStopsConsumption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 100; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"model\":\"m1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	p := testAdapterProvider(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := a.StreamChat(ctx, p, ChatRequest{Model: "m1"})
	require.NoError(t, err)

	<-stream
	cancel()

	drained := 0
	for range stream {
		drained++
		if drained > 1000 {
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
