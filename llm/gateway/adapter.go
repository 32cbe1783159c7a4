package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/vault"
	"github.com/BaSui01/agentflow/types"
)

// Adapter translates gateway-native requests (ChatRequest, EmbeddingRequest,
// RerankRequest) into a Provider's upstream wire dialect and normalizes the
// response back. It dispatches once on Provider.ProviderType — there is
// currently a single branch (ProviderTypeOpenAICompat) since every
// built-in preset speaks that dialect, but the switch is the seam a
// future non-OpenAI-compatible provider type would extend.
type Adapter struct {
	vault  *vault.Vault
	http   *http.Client
	logger *zap.Logger
}

// NewAdapter builds an Adapter. httpClient may be nil for a default
// 60-second-timeout client — upstream chat completions can run long.
func NewAdapter(v *vault.Vault, httpClient *http.Client, logger *zap.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{vault: v, http: httpClient, logger: logger}
}

func (a *Adapter) apiKey(p *Provider) (string, error) {
	key, err := a.vault.Decrypt(p.APIKeyCiphertext)
	if err != nil {
		return "", types.NewError(types.ErrEncryptionError, "failed to decrypt provider api key").WithCause(err).
			WithProvider(p.Name).WithHTTPStatus(http.StatusInternalServerError)
	}
	return key, nil
}

func (a *Adapter) endpoint(p *Provider, path string) string {
	return fmt.Sprintf("%s%s", trimTrailingSlash(p.BaseURL), path)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// openAIChatRequest / openAIChatResponse mirror the subset of the OpenAI
// chat/completions wire format the gateway actually needs.
type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      *struct {
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Delta *struct {
		Content string `json:"content"`
	} `json:"delta,omitempty"`
}

type openAIChatResponse struct {
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIUsage        `json:"usage"`
}

// Chat performs one non-streaming chat completion against p.
func (a *Adapter) Chat(ctx context.Context, p *Provider, req ChatRequest) (*ChatResponse, error) {
	switch p.ProviderType {
	case ProviderTypeOpenAICompat:
		return a.chatOpenAICompat(ctx, p, req)
	default:
		return nil, types.NewError(types.ErrInvalidPreset, fmt.Sprintf("unsupported provider_type %q", p.ProviderType)).
			WithProvider(p.Name).WithHTTPStatus(http.StatusBadGateway)
	}
}

func (a *Adapter) chatOpenAICompat(ctx context.Context, p *Provider, req ChatRequest) (*ChatResponse, error) {
	apiKey, err := a.apiKey(p)
	if err != nil {
		return nil, err
	}

	body := openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(p, "/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.upstreamError(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, a.upstreamStatusError(p, resp)
	}

	var oaResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, a.upstreamError(p, err)
	}

	var content string
	if len(oaResp.Choices) > 0 && oaResp.Choices[0].Message != nil {
		content = oaResp.Choices[0].Message.Content
	}

	model := oaResp.Model
	if model == "" {
		model = req.Model
	}

	return &ChatResponse{
		Content:   content,
		Usage:     Usage(oaResp.Usage),
		LatencyMs: time.Since(start).Milliseconds(),
		Model:     model,
	}, nil
}

// openAIEmbeddingResponse mirrors the OpenAI /embeddings wire format.
type openAIEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage openAIUsage `json:"usage"`
}

// Embed performs one embedding request against p.
func (a *Adapter) Embed(ctx context.Context, p *Provider, req EmbeddingRequest) (*EmbeddingResponse, error) {
	switch p.ProviderType {
	case ProviderTypeOpenAICompat:
		return a.embedOpenAICompat(ctx, p, req)
	default:
		return nil, types.NewError(types.ErrInvalidPreset, fmt.Sprintf("unsupported provider_type %q", p.ProviderType)).
			WithProvider(p.Name).WithHTTPStatus(http.StatusBadGateway)
	}
}

func (a *Adapter) embedOpenAICompat(ctx context.Context, p *Provider, req EmbeddingRequest) (*EmbeddingResponse, error) {
	apiKey, err := a.apiKey(p)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: req.Model, Input: req.Input})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(p, "/embeddings"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.upstreamError(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, a.upstreamStatusError(p, resp)
	}

	var oaResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, a.upstreamError(p, err)
	}

	vectors := make([]EmbeddingVector, len(oaResp.Data))
	for i, d := range oaResp.Data {
		vectors[i] = EmbeddingVector{Index: d.Index, Values: d.Embedding, Dimensions: len(d.Embedding)}
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].Index < vectors[j].Index })

	model := oaResp.Model
	if model == "" {
		model = req.Model
	}
	return &EmbeddingResponse{
		Embeddings: vectors,
		Usage:      Usage(oaResp.Usage),
		LatencyMs:  time.Since(start).Milliseconds(),
		Model:      model,
	}, nil
}

// openAIRerankResponse mirrors the /rerank wire format used by the
// preset catalog's rerank-capable endpoints.
type openAIRerankResponse struct {
	Model   string `json:"model"`
	Results []struct {
		Index          int     `json:"index"`
		Document       string  `json:"document"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank performs one rerank request against p.
func (a *Adapter) Rerank(ctx context.Context, p *Provider, req RerankRequest) (*RerankResponse, error) {
	switch p.ProviderType {
	case ProviderTypeOpenAICompat:
		return a.rerankOpenAICompat(ctx, p, req)
	default:
		return nil, types.NewError(types.ErrInvalidPreset, fmt.Sprintf("unsupported provider_type %q", p.ProviderType)).
			WithProvider(p.Name).WithHTTPStatus(http.StatusBadGateway)
	}
}

func (a *Adapter) rerankOpenAICompat(ctx context.Context, p *Provider, req RerankRequest) (*RerankResponse, error) {
	apiKey, err := a.apiKey(p)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(struct {
		Model     string   `json:"model"`
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	}{Model: req.Model, Query: req.Query, Documents: req.Documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(p, "/rerank"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.upstreamError(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, a.upstreamStatusError(p, resp)
	}

	var oaResp openAIRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, a.upstreamError(p, err)
	}

	results := make([]RerankResult, len(oaResp.Results))
	for i, r := range oaResp.Results {
		results[i] = RerankResult{Index: r.Index, Document: r.Document, RelevanceScore: r.RelevanceScore}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })

	model := oaResp.Model
	if model == "" {
		model = req.Model
	}
	return &RerankResponse{Results: results, LatencyMs: time.Since(start).Milliseconds(), Model: model}, nil
}

func (a *Adapter) upstreamError(p *Provider, err error) error {
	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithProvider(p.Name).WithRetryable(true).WithHTTPStatus(http.StatusBadGateway).WithCause(err)
}

func (a *Adapter) upstreamStatusError(p *Provider, resp *http.Response) error {
	body := drainForErrorDetail(resp.Body, 1000)
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)).
		WithProvider(p.Name).WithRetryable(true).WithHTTPStatus(http.StatusBadGateway).
		WithDetails(map[string]any{
			"upstream_status": resp.StatusCode,
			"upstream_body":   body,
		})
}
