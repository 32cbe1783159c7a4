package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// RouteDeps bundles the gateway core components a router needs to wire
// every endpoint in spec.md §6.1's HTTP surface table.
type RouteDeps struct {
	Providers   *gateway.ProviderRegistry
	Slots       *gateway.SlotRegistry
	Router      *gateway.Router
	Prober      *gateway.Prober
	Adapter     *gateway.Adapter
	HealthCheck *handlers.HealthHandler
	Logger      *zap.Logger
}

// NewMux builds the gateway's HTTP route table. Auth and rate limiting are
// applied by the caller via Chain — this mux only maps paths to handlers.
func NewMux(deps RouteDeps) *http.ServeMux {
	mux := http.NewServeMux()

	providerH := handlers.NewProviderHandler(deps.Providers, deps.Prober, deps.Logger)
	slotH := handlers.NewSlotHandler(deps.Slots, deps.Router, deps.Logger)
	completionH := handlers.NewCompletionHandler(deps.Providers, deps.Adapter, deps.Logger)

	// Health / version — outside the /api/llm prefix, exempted from auth
	// by the skip-paths list passed to the auth middleware.
	if deps.HealthCheck != nil {
		mux.HandleFunc("/health", deps.HealthCheck.HandleHealth)
		mux.HandleFunc("/healthz", deps.HealthCheck.HandleHealthz)
		mux.HandleFunc("/ready", deps.HealthCheck.HandleReady)
		mux.HandleFunc("/readyz", deps.HealthCheck.HandleReady)
	}

	// Public preset catalog — spec.md §6.1's sole no-auth route.
	mux.HandleFunc("GET /api/llm/providers/presets", providerH.HandlePresets)

	// Provider Registry.
	mux.HandleFunc("POST /api/llm/providers", providerH.HandleCreate)
	mux.HandleFunc("GET /api/llm/providers", providerH.HandleList)
	mux.HandleFunc("GET /api/llm/providers/{id}", providerH.HandleGet)
	mux.HandleFunc("PUT /api/llm/providers/{id}", providerH.HandleUpdate)
	mux.HandleFunc("DELETE /api/llm/providers/{id}", providerH.HandleDelete)
	mux.HandleFunc("GET /api/llm/providers/{id}/models", providerH.HandleListModels)
	mux.HandleFunc("POST /api/llm/providers/{id}/test", providerH.HandleTest)

	// Slot Registry + Router.
	mux.HandleFunc("GET /api/llm/slots", slotH.HandleListAll)
	mux.HandleFunc("GET /api/llm/slots/{slot_type}", slotH.HandleGet)
	mux.HandleFunc("PUT /api/llm/slots/{slot_type}", slotH.HandlePut)
	mux.HandleFunc("POST /api/llm/slots/embedding/invoke", slotH.HandleInvokeEmbedding)
	mux.HandleFunc("POST /api/llm/slots/rerank/invoke", slotH.HandleInvokeRerank)
	mux.HandleFunc("POST /api/llm/slots/{slot_type}/invoke", slotH.HandleInvoke)

	// Direct (non-slot) completions.
	mux.HandleFunc("POST /api/llm/completions", completionH.HandleCompletions)
	mux.HandleFunc("POST /api/llm/embeddings", completionH.HandleEmbeddings)
	mux.HandleFunc("POST /api/llm/rerank", completionH.HandleRerank)

	return mux
}

// AuthSkipPaths lists every path exempt from credential verification:
// the public preset route plus standard health/readiness/metrics
// endpoints.
func AuthSkipPaths() []string {
	return []string{
		"/api/llm/providers/presets",
		"/health", "/healthz", "/ready", "/readyz", "/metrics",
	}
}
