package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/types"
)

// ProviderHandler exposes the Provider Registry and Connectivity Prober
// over HTTP: spec.md §6.1's /api/llm/providers* and /api/llm/providers/{id}/*
// routes.
type ProviderHandler struct {
	registry *gateway.ProviderRegistry
	prober   *gateway.Prober
	logger   *zap.Logger
}

// NewProviderHandler builds a handler bound to registry and prober.
func NewProviderHandler(registry *gateway.ProviderRegistry, prober *gateway.Prober, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{registry: registry, prober: prober, logger: logger}
}

// HandlePresets serves the built-in preset catalog. Unauthenticated per
// spec.md §6.1.
func (h *ProviderHandler) HandlePresets(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, gateway.ListPresets())
}

type createProviderRequest struct {
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	PresetID     string         `json:"preset_id,omitempty"`
	ProviderType string         `json:"provider_type,omitempty"`
	BaseURL      string         `json:"base_url,omitempty"`
	APIKey       string         `json:"api_key"`
	Config       map[string]any `json:"config,omitempty"`
}

// HandleCreate handles POST /api/llm/providers.
func (h *ProviderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" || req.Slug == "" || req.APIKey == "" {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrValidationError,
			"name, slug and api_key are required", h.logger)
		return
	}

	p, err := h.registry.Create(r.Context(), gateway.CreateProviderInput{
		Name:         req.Name,
		Slug:         req.Slug,
		PresetID:     req.PresetID,
		ProviderType: gateway.ProviderType(req.ProviderType),
		BaseURL:      req.BaseURL,
		APIKey:       req.APIKey,
		Config:       req.Config,
	})
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Data: p,
		Meta: Meta{RequestID: w.Header().Get("X-Request-ID"), Timestamp: time.Now()},
	})
}

// HandleList handles GET /api/llm/providers.
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.List(r.Context())
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, list)
}

// HandleGet handles GET /api/llm/providers/{id}.
func (h *ProviderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

type updateProviderRequest struct {
	Name      *string        `json:"name,omitempty"`
	Slug      *string        `json:"slug,omitempty"`
	BaseURL   *string        `json:"base_url,omitempty"`
	APIKey    *string        `json:"api_key,omitempty"`
	IsEnabled *bool          `json:"is_enabled,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// HandleUpdate handles PUT /api/llm/providers/{id}.
func (h *ProviderHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateProviderRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	p, err := h.registry.Update(r.Context(), id, gateway.UpdateProviderInput{
		Name:      req.Name,
		Slug:      req.Slug,
		BaseURL:   req.BaseURL,
		APIKey:    req.APIKey,
		IsEnabled: req.IsEnabled,
		Config:    req.Config,
	})
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleDelete handles DELETE /api/llm/providers/{id}.
func (h *ProviderHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListModels handles GET /api/llm/providers/{id}/models.
func (h *ProviderHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	models, err := h.registry.ListModels(r.Context(), id)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, models)
}

type testProviderRequest struct {
	TestType    string `json:"test_type,omitempty"`
	TestModelID string `json:"test_model_id,omitempty"`
}

// HandleTest handles POST /api/llm/providers/{id}/test.
func (h *ProviderHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req testProviderRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	testType := req.TestType
	if testType == "" {
		testType = "chat"
	}

	result, err := h.prober.Probe(r.Context(), id, testType, req.TestModelID)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// writeGatewayError writes err as the canonical envelope's error branch,
// translating a *types.Error directly and wrapping any other error as an
// opaque internal error so internal details never leak to the client.
func writeGatewayError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if gwErr, ok := err.(*types.Error); ok {
		WriteError(w, gwErr, logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal error", logger)
	if logger != nil {
		logger.Error("unhandled gateway error", zap.Error(err))
	}
}
