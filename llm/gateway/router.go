package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/types"
)

// Router resolves a SlotType to an effective provider/model and drives
// the primary-then-fallback invocation against the Adapter, recording a
// FailoverTrace of every attempt: returned in the RoutingDecision on
// success, and as the failover_trace detail of the ALL_MODELS_FAILED
// error when every target fails.
type Router struct {
	slots     *SlotRegistry
	providers *ProviderRegistry
	adapter   *Adapter
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewRouter wires a Router from its three collaborators.
func NewRouter(slots *SlotRegistry, providers *ProviderRegistry, adapter *Adapter, logger *zap.Logger) *Router {
	return &Router{slots: slots, providers: providers, adapter: adapter, logger: logger}
}

// SetMetrics attaches a metrics collector. Left unset, routing proceeds
// without recording slot-invocation or failover counters — useful in tests
// that have no registry to collect against.
func (r *Router) SetMetrics(c *metrics.Collector) {
	r.metrics = c
}

func (r *Router) recordOutcome(slotType SlotType, trace []AttemptRecord, failed bool) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "all_models_failed"
	}
	r.metrics.RecordSlotInvocation(string(slotType), outcome)

	for i := 1; i < len(trace); i++ {
		if trace[i].Success {
			r.metrics.RecordSlotFailover(string(slotType), trace[i-1].ProviderName, trace[i].ProviderName)
			return
		}
	}
}

// targets returns the ordered (primary, then fallback...) list of
// ModelRef to attempt for slotType.
func (r *Router) targets(ctx context.Context, slotType SlotType) ([]ModelRef, error) {
	slot, err := r.slots.GetEnabled(ctx, slotType)
	if err != nil {
		return nil, err
	}

	chain, err := slot.FallbackChain()
	if err != nil {
		return nil, fmt.Errorf("decode fallback chain: %w", err)
	}

	targets := make([]ModelRef, 0, len(chain)+1)
	targets = append(targets, slot.Primary())
	targets = append(targets, chain...)
	return targets, nil
}

// Chat resolves slotType and invokes the Adapter's Chat, failing over
// through the slot's fallback chain in order on any upstream error.
// Cancellation is checked between attempts: a ctx that is done stops the
// walk immediately rather than burning the remaining chain.
func (r *Router) Chat(ctx context.Context, slotType SlotType, req ChatRequest) (*ChatResponse, *RoutingDecision, error) {
	targets, err := r.targets(ctx, slotType)
	if err != nil {
		return nil, nil, err
	}

	var trace []AttemptRecord
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		provider, perr := r.providers.Get(ctx, target.ProviderID)
		if perr != nil {
			trace = append(trace, AttemptRecord{ModelID: target.ModelID, Success: false, ErrorMessage: perr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.Model = target.ModelID

		start := time.Now()
		resp, cerr := r.adapter.Chat(ctx, provider, attemptReq)
		latency := time.Since(start).Milliseconds()

		if cerr == nil {
			trace = append(trace, AttemptRecord{
				ProviderName: provider.Name, ModelID: target.ModelID, Success: true, LatencyMs: latency,
			})
			decision := &RoutingDecision{
				ProviderName: provider.Name,
				ModelID:      target.ModelID,
				SlotType:     slotType,
				UsedFallback: i > 0,
				Trace:        trace,
			}
			r.recordOutcome(slotType, trace, false)
			return resp, decision, nil
		}

		r.logger.Warn("chat attempt failed",
			zap.String("slot_type", string(slotType)),
			zap.String("provider", provider.Name),
			zap.String("model_id", target.ModelID),
			zap.Int("attempt_index", i),
			zap.Error(cerr))

		trace = append(trace, AttemptRecord{
			ProviderName: provider.Name, ModelID: target.ModelID, Success: false,
			ErrorMessage: cerr.Error(), LatencyMs: latency,
		})
	}

	r.recordOutcome(slotType, trace, true)
	return nil, nil, r.allFailed(slotType, trace)
}

// StreamChat resolves slotType and streams from the first target that
// successfully opens a stream connection. Because the stream body hasn't
// been consumed yet when a connection opens, failover here only covers
// connection-establishment failures (HTTP error responses, network
// errors) — a failure mid-stream after bytes have already reached the
// client surfaces as a StreamChunk.Err, matching the OpenAI SSE contract
// that a stream, once started, can't be silently restarted.
func (r *Router) StreamChat(ctx context.Context, slotType SlotType, req ChatRequest) (<-chan StreamChunk, *RoutingDecision, error) {
	targets, err := r.targets(ctx, slotType)
	if err != nil {
		return nil, nil, err
	}

	var trace []AttemptRecord
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		provider, perr := r.providers.Get(ctx, target.ProviderID)
		if perr != nil {
			trace = append(trace, AttemptRecord{ModelID: target.ModelID, Success: false, ErrorMessage: perr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.Model = target.ModelID

		stream, serr := r.adapter.StreamChat(ctx, provider, attemptReq)
		if serr == nil {
			trace = append(trace, AttemptRecord{ProviderName: provider.Name, ModelID: target.ModelID, Success: true})
			decision := &RoutingDecision{
				ProviderName: provider.Name,
				ModelID:      target.ModelID,
				SlotType:     slotType,
				UsedFallback: i > 0,
				Trace:        trace,
			}
			r.recordOutcome(slotType, trace, false)
			return stream, decision, nil
		}

		r.logger.Warn("stream chat attempt failed",
			zap.String("slot_type", string(slotType)),
			zap.String("provider", provider.Name),
			zap.String("model_id", target.ModelID),
			zap.Int("attempt_index", i),
			zap.Error(serr))

		trace = append(trace, AttemptRecord{ProviderName: provider.Name, ModelID: target.ModelID, Success: false, ErrorMessage: serr.Error()})
	}

	r.recordOutcome(slotType, trace, true)
	return nil, nil, r.allFailed(slotType, trace)
}

// Embed resolves slotType and invokes the Adapter's Embed with the same
// failover walk as Chat.
func (r *Router) Embed(ctx context.Context, slotType SlotType, req EmbeddingRequest) (*EmbeddingResponse, *RoutingDecision, error) {
	targets, err := r.targets(ctx, slotType)
	if err != nil {
		return nil, nil, err
	}

	var trace []AttemptRecord
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		provider, perr := r.providers.Get(ctx, target.ProviderID)
		if perr != nil {
			trace = append(trace, AttemptRecord{ModelID: target.ModelID, Success: false, ErrorMessage: perr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.Model = target.ModelID

		start := time.Now()
		resp, eerr := r.adapter.Embed(ctx, provider, attemptReq)
		latency := time.Since(start).Milliseconds()

		if eerr == nil {
			trace = append(trace, AttemptRecord{ProviderName: provider.Name, ModelID: target.ModelID, Success: true, LatencyMs: latency})
			decision := &RoutingDecision{
				ProviderName: provider.Name, ModelID: target.ModelID, SlotType: slotType,
				UsedFallback: i > 0, Trace: trace,
			}
			r.recordOutcome(slotType, trace, false)
			return resp, decision, nil
		}

		trace = append(trace, AttemptRecord{
			ProviderName: provider.Name, ModelID: target.ModelID, Success: false, ErrorMessage: eerr.Error(), LatencyMs: latency,
		})
	}

	r.recordOutcome(slotType, trace, true)
	return nil, nil, r.allFailed(slotType, trace)
}

// Rerank resolves slotType and invokes the Adapter's Rerank with the same
// failover walk as Chat.
func (r *Router) Rerank(ctx context.Context, slotType SlotType, req RerankRequest) (*RerankResponse, *RoutingDecision, error) {
	targets, err := r.targets(ctx, slotType)
	if err != nil {
		return nil, nil, err
	}

	var trace []AttemptRecord
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		provider, perr := r.providers.Get(ctx, target.ProviderID)
		if perr != nil {
			trace = append(trace, AttemptRecord{ModelID: target.ModelID, Success: false, ErrorMessage: perr.Error()})
			continue
		}

		attemptReq := req
		attemptReq.Model = target.ModelID

		start := time.Now()
		resp, rerr := r.adapter.Rerank(ctx, provider, attemptReq)
		latency := time.Since(start).Milliseconds()

		if rerr == nil {
			trace = append(trace, AttemptRecord{ProviderName: provider.Name, ModelID: target.ModelID, Success: true, LatencyMs: latency})
			decision := &RoutingDecision{
				ProviderName: provider.Name, ModelID: target.ModelID, SlotType: slotType,
				UsedFallback: i > 0, Trace: trace,
			}
			r.recordOutcome(slotType, trace, false)
			return resp, decision, nil
		}

		trace = append(trace, AttemptRecord{
			ProviderName: provider.Name, ModelID: target.ModelID, Success: false, ErrorMessage: rerr.Error(), LatencyMs: latency,
		})
	}

	r.recordOutcome(slotType, trace, true)
	return nil, nil, r.allFailed(slotType, trace)
}

func (r *Router) allFailed(slotType SlotType, trace []AttemptRecord) error {
	return types.NewError(types.ErrAllModelsFailed,
		fmt.Sprintf("all providers configured for slot %q failed", slotType)).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithDetails(map[string]any{"failover_trace": trace})
}
