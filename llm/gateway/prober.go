package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/vault"
)

// Prober runs the three-stage connectivity probe against a configured
// provider: ListModels first; on a 404 it falls forward to a chat ping
// against the preset's test model, and without a preset test model it
// accepts the 404 as a bare reachability result. The default probe never
// sends an embedding or rerank ping; those run only through the
// testModelID override.
type Prober struct {
	providers *ProviderRegistry
	vault     *vault.Vault
	http      *http.Client
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewProber builds a Prober sharing the registry's HTTP client timeout.
func NewProber(providers *ProviderRegistry, v *vault.Vault, httpClient *http.Client, logger *zap.Logger) *Prober {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{providers: providers, vault: v, http: httpClient, logger: logger}
}

// SetMetrics attaches a metrics collector. Left unset, probes proceed
// without recording the provider_probe_* counters.
func (pr *Prober) SetMetrics(c *metrics.Collector) {
	pr.metrics = c
}

// Probe tests connectivity for provider id. testModelID, when non-empty,
// bypasses the three-stage strategy entirely and directly pings
// testType against that exact model — used by the API's
// test_model_id override.
func (pr *Prober) Probe(ctx context.Context, id string, testType string, testModelID string) (*ProbeResult, error) {
	p, err := pr.providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	apiKey, err := pr.vault.Decrypt(p.APIKeyCiphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}

	if testModelID != "" {
		return pr.runTest(ctx, p, apiKey, testType, testModelID, false)
	}

	result, err := pr.runTest(ctx, p, apiKey, "models", "", true)
	if err != nil {
		return nil, err
	}
	if result.Status == "ok" && strings.Contains(result.Message, "不支持模型列表") {
		if fallbackModel := pr.presetTestModel(p); fallbackModel != "" {
			return pr.runTest(ctx, p, apiKey, "chat", fallbackModel, false)
		}
	}
	return result, nil
}

func (pr *Prober) presetTestModel(p *Provider) string {
	cfg, err := p.Config()
	if err != nil {
		return ""
	}
	presetID, _ := cfg["preset_id"].(string)
	if presetID == "" {
		return ""
	}
	preset, ok := GetPreset(presetID)
	if !ok {
		return ""
	}
	return preset.TestModel
}

func (pr *Prober) runTest(ctx context.Context, p *Provider, apiKey, testType, testModelID string, isDefaultProbe bool) (*ProbeResult, error) {
	start := time.Now()

	req, err := pr.buildTestRequest(ctx, p.BaseURL, apiKey, testType, testModelID)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := pr.http.Do(req)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		result := pr.evaluateError(p.ID, err, latencyMs, testType, testModelID)
		pr.recordProbeMetric(p.Name, testType, result, latencyMs)
		return result, nil
	}
	defer resp.Body.Close()

	body := drainForErrorDetail(resp.Body, 500)
	result := pr.evaluateResponse(p.ID, resp.StatusCode, body, latencyMs, testType, testModelID, isDefaultProbe)
	pr.recordProbeMetric(p.Name, testType, result, latencyMs)
	return result, nil
}

func (pr *Prober) recordProbeMetric(providerName, testType string, result *ProbeResult, latencyMs int64) {
	if pr.metrics == nil {
		return
	}
	pr.metrics.RecordProbe(providerName, testType, result.Status, time.Duration(latencyMs)*time.Millisecond)
}

func (pr *Prober) buildTestRequest(ctx context.Context, baseURL, apiKey, testType, modelID string) (*http.Request, error) {
	headers := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")
	}

	if testType == "models" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
		if err != nil {
			return nil, err
		}
		headers(req)
		return req, nil
	}

	model := modelID
	if model == "" {
		model = "ping"
	}

	var path string
	var payload []byte
	switch testType {
	case "embedding":
		path = "/embeddings"
		payload = []byte(fmt.Sprintf(`{"model":%q,"input":["ping"]}`, model))
	case "rerank":
		path = "/rerank"
		payload = []byte(fmt.Sprintf(`{"model":%q,"query":"test","documents":["test"]}`, model))
	default:
		path = "/chat/completions"
		payload = []byte(fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"ping"}],"max_tokens":1}`, model))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	headers(req)
	return req, nil
}

func (pr *Prober) evaluateError(providerID string, err error, latencyMs int64, testType, testModelID string) *ProbeResult {
	base := &ProbeResult{
		ProviderID:  providerID,
		LatencyMs:   latencyMs,
		TestType:    testType,
		TestModelID: testModelID,
		Status:      "error",
		ProbedAt:    time.Now(),
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		base.Message = "连接超时"
		base.ErrorDetail = "请求在 10 秒内未响应"
		return base
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		base.Message = "连接超时"
		base.ErrorDetail = "请求在 10 秒内未响应"
		return base
	}

	base.Message = "无法连接到 Provider"
	base.ErrorDetail = err.Error()
	return base
}

func (pr *Prober) evaluateResponse(providerID string, statusCode int, bodyText string, latencyMs int64, testType, testModelID string, isDefaultProbe bool) *ProbeResult {
	base := &ProbeResult{
		ProviderID:  providerID,
		LatencyMs:   latencyMs,
		TestType:    testType,
		TestModelID: testModelID,
		ProbedAt:    time.Now(),
	}

	if statusCode < 400 {
		base.Status = "ok"
		base.Message = "连接成功"
		return base
	}

	if isDefaultProbe && statusCode == 404 {
		base.Status = "ok"
		base.Message = "连接成功（不支持模型列表接口，将尝试 chat 验证）"
		return base
	}

	base.Status = "error"
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		base.Message = fmt.Sprintf("API Key 无效或权限不足 (HTTP %d)", statusCode)
	} else {
		base.Message = fmt.Sprintf("Provider 返回 HTTP %d", statusCode)
	}
	base.ErrorDetail = bodyText
	return base
}
