// Package gateway implements the LLM gateway core: the credential vault
// consumer, the Provider/Slot registries, the upstream adapter (chat,
// streaming chat, embedding, rerank), the slot router with failover, and
// the connectivity prober.
package gateway

import "time"

// SlotType is the closed enumeration of capability slots. Adding a fifth
// capability requires a code change here — that friction is deliberate.
type SlotType string

const (
	SlotFast      SlotType = "fast"
	SlotReasoning SlotType = "reasoning"
	SlotEmbedding SlotType = "embedding"
	SlotRerank    SlotType = "rerank"
)

// SlotTypes lists every slot in enum declaration order, used by
// Slots.ListAll to synthesize placeholders in a stable order.
var SlotTypes = []SlotType{SlotFast, SlotReasoning, SlotEmbedding, SlotRerank}

func (s SlotType) Valid() bool {
	for _, t := range SlotTypes {
		if t == s {
			return true
		}
	}
	return false
}

// ProviderType tags the upstream wire dialect family. It is a closed sum
// type, not a free-form string: the Adapter switches on it once rather
// than looking up a dynamic SDK at runtime.
type ProviderType string

const (
	// ProviderTypeOpenAICompat covers any endpoint speaking the OpenAI
	// /chat/completions, /embeddings, /rerank dialect — this is every
	// built-in Provider Preset.
	ProviderTypeOpenAICompat ProviderType = "openai"
)

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream-agnostic chat completion request shape.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Usage carries token accounting, echoed back from the upstream response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalized non-streaming chat completion result.
type ChatResponse struct {
	Content   string `json:"content"`
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model"`
}

// StreamChunk is one event of a streaming chat completion. A content
// event carries Delta and/or FinishReason (the final upstream event may
// carry only FinishReason); Done marks the terminal summary event;
// Err carries a transport-level failure that terminates the stream.
type StreamChunk struct {
	Delta        string `json:"delta,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         *StreamSummary `json:"-"`
	Err          error  `json:"-"`
}

// StreamSummary is the synthetic terminal event emitted after all upstream
// content events and before the `[DONE]` sentinel.
type StreamSummary struct {
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model"`
}

// EmbeddingRequest requests vector embeddings for a batch of inputs.
type EmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbeddingVector is one embedding result, positioned by Index to match
// the input slice order.
type EmbeddingVector struct {
	Index      int       `json:"index"`
	Values     []float64 `json:"values"`
	Dimensions int       `json:"dimensions"`
}

// EmbeddingResponse is the normalized embedding result.
type EmbeddingResponse struct {
	Embeddings []EmbeddingVector `json:"embeddings"`
	Usage      Usage             `json:"usage"`
	LatencyMs  int64             `json:"latency_ms"`
	Model      string            `json:"model"`
}

// RerankRequest requests a relevance ranking of documents against a query.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// RerankResult is one ranked document.
type RerankResult struct {
	Index          int     `json:"index"`
	Document       string  `json:"document"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse is the normalized rerank result, sorted by
// RelevanceScore descending.
type RerankResponse struct {
	Results   []RerankResult `json:"results"`
	LatencyMs int64          `json:"latency_ms"`
	Model     string         `json:"model"`
}

// AttemptRecord is one entry of a FailoverTrace: the outcome of a single
// (provider, model) attempt made by the Router via the Adapter.
type AttemptRecord struct {
	ProviderName string `json:"provider_name"`
	ModelID      string `json:"model_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`
}

// RoutingDecision accompanies every successful slot invocation result; a
// failed invocation returns none and carries the attempts in the
// ALL_MODELS_FAILED error's failover_trace detail. UsedFallback is the Go-side name for what the wire protocol
// calls used_resource_pool (see DESIGN.md for the naming resolution).
type RoutingDecision struct {
	ProviderName string          `json:"provider_name"`
	ModelID      string          `json:"model_id"`
	SlotType     SlotType        `json:"slot_type"`
	UsedFallback bool            `json:"used_resource_pool"`
	Trace        []AttemptRecord `json:"failover_trace"`
}

// ModelRef is one (provider, model) pair — used both as a Slot's primary
// target and as an entry of its fallback chain.
type ModelRef struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

// UpstreamModel is one entry of a best-effort provider model listing.
type UpstreamModel struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ProbeResult is the outcome of a connectivity probe.
type ProbeResult struct {
	ProviderID  string `json:"provider_id"`
	Status      string `json:"status"` // "ok" | "error"
	Message     string `json:"message"`
	ErrorDetail string `json:"error_detail,omitempty"`
	LatencyMs   int64  `json:"latency_ms"`
	TestType    string `json:"test_type"`
	TestModelID string `json:"test_model_id,omitempty"`
	ProbedAt    time.Time `json:"probed_at"`
}
