package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/types"
)

// SlotHandler exposes the Slot Registry and Slot Router over HTTP:
// spec.md §6.1's /api/llm/slots* routes, including the per-slot invoke
// endpoints.
type SlotHandler struct {
	slots  *gateway.SlotRegistry
	router *gateway.Router
	logger *zap.Logger
}

// NewSlotHandler builds a handler bound to slots and router.
func NewSlotHandler(slots *gateway.SlotRegistry, router *gateway.Router, logger *zap.Logger) *SlotHandler {
	return &SlotHandler{slots: slots, router: router, logger: logger}
}

// HandleListAll handles GET /api/llm/slots.
func (h *SlotHandler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.slots.ListAll(r.Context())
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, list)
}

// HandleGet handles GET /api/llm/slots/{slot_type}.
func (h *SlotHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	slotType := gateway.SlotType(r.PathValue("slot_type"))
	if !slotType.Valid() {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError,
			"unknown slot type", h.logger)
		return
	}
	slot, err := h.slots.Get(r.Context(), slotType)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, slot)
}

type configureSlotRequest struct {
	PrimaryProviderID string                 `json:"primary_provider_id"`
	PrimaryModelID    string                 `json:"primary_model_id"`
	FallbackChain     []gateway.ModelRef     `json:"fallback_chain,omitempty"`
	IsEnabled         bool                   `json:"is_enabled"`
	Config            map[string]any         `json:"config,omitempty"`
}

// HandlePut handles PUT /api/llm/slots/{slot_type}.
func (h *SlotHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	slotType := gateway.SlotType(r.PathValue("slot_type"))
	var req configureSlotRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	slot, err := h.slots.Configure(r.Context(), gateway.ConfigureSlotInput{
		SlotType:          slotType,
		PrimaryProviderID: req.PrimaryProviderID,
		PrimaryModelID:    req.PrimaryModelID,
		FallbackChain:     req.FallbackChain,
		IsEnabled:         req.IsEnabled,
		Config:            req.Config,
	})
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, slot)
}

// HandleInvoke handles POST /api/llm/slots/{slot_type}/invoke — chat
// completion (streaming or not) against the fast/reasoning slots.
func (h *SlotHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	slotType := gateway.SlotType(r.PathValue("slot_type"))
	if !slotType.Valid() || slotType == gateway.SlotEmbedding || slotType == gateway.SlotRerank {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError,
			"slot type does not accept chat invocations", h.logger)
		return
	}

	var req gateway.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Stream {
		h.streamChat(w, r, slotType, req)
		return
	}

	resp, decision, err := h.router.Chat(r.Context(), slotType, req)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"response": resp, "routing": decision})
}

func (h *SlotHandler) streamChat(w http.ResponseWriter, r *http.Request, slotType gateway.SlotType, req gateway.ChatRequest) {
	ch, _, err := h.router.StreamChat(r.Context(), slotType, req)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	writeSSEStream(w, r, ch, h.logger)
}

// HandleInvokeEmbedding handles POST /api/llm/slots/embedding/invoke.
func (h *SlotHandler) HandleInvokeEmbedding(w http.ResponseWriter, r *http.Request) {
	var req gateway.EmbeddingRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	resp, decision, err := h.router.Embed(r.Context(), gateway.SlotEmbedding, req)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"response": resp, "routing": decision})
}

// HandleInvokeRerank handles POST /api/llm/slots/rerank/invoke.
func (h *SlotHandler) HandleInvokeRerank(w http.ResponseWriter, r *http.Request) {
	var req gateway.RerankRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	resp, decision, err := h.router.Rerank(r.Context(), gateway.SlotRerank, req)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"response": resp, "routing": decision})
}
