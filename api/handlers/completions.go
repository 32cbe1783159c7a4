package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/types"
)

// CompletionHandler exposes the direct (non-slot) chat/embedding/rerank
// endpoints: spec.md §6.1's /api/llm/completions, /api/llm/embeddings,
// /api/llm/rerank. Unlike the slot-invoke endpoints, these call a single
// named provider once and propagate any upstream failure verbatim as 502 —
// there is no failover chain to absorb it.
type CompletionHandler struct {
	providers *gateway.ProviderRegistry
	adapter   *gateway.Adapter
	logger    *zap.Logger
}

// NewCompletionHandler builds a handler bound to providers and adapter.
func NewCompletionHandler(providers *gateway.ProviderRegistry, adapter *gateway.Adapter, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{providers: providers, adapter: adapter, logger: logger}
}

type directChatRequest struct {
	gateway.ChatRequest
	ProviderID string `json:"provider_id"`
}

// HandleCompletions handles POST /api/llm/completions.
func (h *CompletionHandler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	var req directChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError, "provider_id is required", h.logger)
		return
	}

	p, err := h.providers.Get(r.Context(), req.ProviderID)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}

	if req.Stream {
		ch, err := h.adapter.StreamChat(r.Context(), p, req.ChatRequest)
		if err != nil {
			writeGatewayError(w, err, h.logger)
			return
		}
		writeSSEStream(w, r, ch, h.logger)
		return
	}

	resp, err := h.adapter.Chat(r.Context(), p, req.ChatRequest)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

type directEmbeddingRequest struct {
	gateway.EmbeddingRequest
	ProviderID string `json:"provider_id"`
}

// HandleEmbeddings handles POST /api/llm/embeddings.
func (h *CompletionHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req directEmbeddingRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError, "provider_id is required", h.logger)
		return
	}
	p, err := h.providers.Get(r.Context(), req.ProviderID)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	resp, err := h.adapter.Embed(r.Context(), p, req.EmbeddingRequest)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

type directRerankRequest struct {
	gateway.RerankRequest
	ProviderID string `json:"provider_id"`
}

// HandleRerank handles POST /api/llm/rerank.
func (h *CompletionHandler) HandleRerank(w http.ResponseWriter, r *http.Request) {
	var req directRerankRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError, "provider_id is required", h.logger)
		return
	}
	p, err := h.providers.Get(r.Context(), req.ProviderID)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	resp, err := h.adapter.Rerank(r.Context(), p, req.RerankRequest)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// writeSSEStream drains a gateway.StreamChunk channel onto the response as
// text/event-stream per spec.md §6.2: content events, then one terminal
// summary event, then the [DONE] sentinel. A mid-stream Err chunk ends the
// stream without the terminal summary — the client sees a truncated event
// sequence rather than a malformed trailing event, since HTTP headers
// (and therefore a JSON error envelope) can no longer be sent once
// streaming has begun.
func writeSSEStream(w http.ResponseWriter, r *http.Request, ch <-chan gateway.StreamChunk, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				fmt.Fprint(bw, "data: [DONE]\n\n")
				bw.Flush()
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			if chunk.Err != nil {
				logger.Warn("stream terminated by upstream error", zap.Error(chunk.Err))
				bw.Flush()
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			if chunk.Done != nil {
				b, _ := json.Marshal(chunk.Done)
				fmt.Fprintf(bw, "data: %s\n\n", b)
			} else {
				event := struct {
					Delta        string `json:"delta"`
					FinishReason string `json:"finish_reason,omitempty"`
				}{Delta: chunk.Delta, FinishReason: chunk.FinishReason}
				b, _ := json.Marshal(event)
				fmt.Fprintf(bw, "data: %s\n\n", b)
			}
			bw.Flush()
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
