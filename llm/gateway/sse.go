package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StreamChat performs a streaming chat completion against p and returns a
// channel of StreamChunks. Exactly one terminal event closes the channel:
// either a synthetic Done summary chunk (success) or an Err chunk
// (transport failure mid-stream) — the caller's SSE handler translates
// Done into the final `{usage, latency_ms, model}` event plus `[DONE]`.
func (a *Adapter) StreamChat(ctx context.Context, p *Provider, req ChatRequest) (<-chan StreamChunk, error) {
	switch p.ProviderType {
	case ProviderTypeOpenAICompat:
		return a.streamChatOpenAICompat(ctx, p, req)
	default:
		return nil, fmt.Errorf("unsupported provider_type %q", p.ProviderType)
	}
}

func (a *Adapter) streamChatOpenAICompat(ctx context.Context, p *Provider, req ChatRequest) (<-chan StreamChunk, error) {
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
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stream chat request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(p, "/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.upstreamError(p, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, a.upstreamStatusError(p, resp)
	}

	return a.consumeSSE(ctx, resp.Body, req.Model, start), nil
}

// consumeSSE reads upstream SSE events line by line, forwarding content
// deltas, then emits one synthetic StreamSummary event carrying usage and
// total latency before closing the channel — placed there because the
// gateway owns end-to-end latency accounting, not any individual upstream.
func (a *Adapter) consumeSSE(ctx context.Context, body io.ReadCloser, model string, start time.Time) <-chan StreamChunk {
	ch := make(chan StreamChunk)

	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		var usage Usage
		var lastModel string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					sendChunk(ctx, ch, StreamChunk{Err: fmt.Errorf("read sse stream: %w", err)})
					return
				}
				break
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var oaResp openAIChatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				sendChunk(ctx, ch, StreamChunk{Err: fmt.Errorf("decode sse event: %w", err)})
				return
			}
			if oaResp.Model != "" {
				lastModel = oaResp.Model
			}
			if oaResp.Usage.TotalTokens > 0 {
				usage = Usage(oaResp.Usage)
			}

			for _, choice := range oaResp.Choices {
				var delta string
				if choice.Delta != nil {
					delta = choice.Delta.Content
				}
				if delta == "" && choice.FinishReason == "" {
					continue
				}
				if !sendChunk(ctx, ch, StreamChunk{Delta: delta, FinishReason: choice.FinishReason}) {
					return
				}
			}
		}

		if lastModel == "" {
			lastModel = model
		}
		sendChunk(ctx, ch, StreamChunk{Done: &StreamSummary{
			Usage:     usage,
			LatencyMs: time.Since(start).Milliseconds(),
			Model:     lastModel,
		}})
	}()

	return ch
}

// sendChunk delivers chunk unless ctx is already canceled. Returns false
// when the send was dropped due to cancellation, signalling the caller to
// stop consuming the upstream body.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}
