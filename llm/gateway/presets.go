package gateway

// Preset is a compiled-in description of a well-known provider endpoint:
// enough to auto-fill provider_type/base_url on creation, and a safe test
// model for the Connectivity Prober to fall forward to when a provider
// doesn't implement list-models.
type Preset struct {
	PresetID     string
	Name         string
	ProviderType ProviderType
	BaseURL      string
	Description  string
	TestModel    string
}

// builtinPresets is the process-wide constant table of known SaaS
// OpenAI-compatible endpoints, ported from the original implementation's
// preset registry so operators can paste just an API key and get a
// working provider.
var builtinPresets = map[string]Preset{
	"openrouter": {
		PresetID:     "openrouter",
		Name:         "OpenRouter",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://openrouter.ai/api/v1",
		Description:  "Unified API gateway aggregating many model vendors",
		TestModel:    "openrouter/auto",
	},
	"kimi": {
		PresetID:     "kimi",
		Name:         "Kimi",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://api.moonshot.cn/v1",
		Description:  "Moonshot AI long-context models",
		TestModel:    "moonshot-v1-8k",
	},
	"zhipu": {
		PresetID:     "zhipu",
		Name:         "Zhipu AI",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		Description:  "Zhipu GLM model family",
		TestModel:    "glm-4-flash-250414",
	},
	"aiping": {
		PresetID:     "aiping",
		Name:         "AIPing",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://aiping.cn/api/v1",
		Description:  "AIPing model evaluation and API platform",
		TestModel:    "DeepSeek-V3.2",
	},
	"minimax": {
		PresetID:     "minimax",
		Name:         "MiniMax",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://api.minimaxi.com/v1",
		Description:  "MiniMax open model platform",
		TestModel:    "MiniMax-M2.5",
	},
	"siliconflow": {
		PresetID:     "siliconflow",
		Name:         "SiliconFlow",
		ProviderType: ProviderTypeOpenAICompat,
		BaseURL:      "https://api.siliconflow.cn/v1",
		Description:  "SiliconFlow inference acceleration platform",
		TestModel:    "Qwen/Qwen2.5-7B-Instruct",
	},
}

// GetPreset looks up a built-in preset by id. The bool is false when the
// preset is unknown.
func GetPreset(presetID string) (Preset, bool) {
	p, ok := builtinPresets[presetID]
	return p, ok
}

// ListPresets returns the full preset catalog, used by the public
// unauthenticated presets endpoint. Order is not significant.
func ListPresets() []Preset {
	out := make([]Preset, 0, len(builtinPresets))
	for _, p := range builtinPresets {
		out = append(out, p)
	}
	return out
}
