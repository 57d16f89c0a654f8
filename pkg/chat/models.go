package chat

type ModelType string

const (
	ModelGPT4             ModelType = "gpt-4"
	ModelGPT4Turbo        ModelType = "gpt-4-0125-preview"
	ModelGPT4Vision       ModelType = "gpt-4-vision-preview"
	ModelGPT35Turbo       ModelType = "gpt-3.5-turbo"
	ModelClaude           ModelType = "claude"
	ModelGeminiPro        ModelType = "gemini-pro"
	DefaultModel                    = ModelGPT4Turbo
	DefaultTitleModel               = ModelGPT35Turbo
	DefaultClaudeUpstream           = "claude-3-opus-20240229"
)

// ProviderFamily identifies which stream adapter serves a model.
type ProviderFamily string

const (
	ProviderOpenAI ProviderFamily = "openai"
	ProviderClaude ProviderFamily = "claude"
	ProviderGemini ProviderFamily = "gemini"
)

var KnownModels = []ModelType{
	ModelGPT4Turbo,
	ModelGPT4,
	ModelGPT4Vision,
	ModelGPT35Turbo,
	ModelClaude,
	ModelGeminiPro,
}

func (m ModelType) IsKnown() bool {
	for _, k := range KnownModels {
		if k == m {
			return true
		}
	}
	return false
}

// Provider returns the adapter family. Anything unknown goes to OpenAI, like the
// browser client did.
func (m ModelType) Provider() ProviderFamily {
	switch m {
	case ModelClaude:
		return ProviderClaude
	case ModelGeminiPro:
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// UpstreamName maps a model identifier to the name sent to the provider API.
func (m ModelType) UpstreamName() string {
	switch m {
	case ModelGPT4, ModelGPT4Turbo, ModelGPT4Vision, ModelGPT35Turbo, ModelGeminiPro:
		return string(m)
	case ModelClaude:
		return DefaultClaudeUpstream
	default:
		return string(DefaultModel)
	}
}

func (m ModelType) DisplayName() string {
	switch m.Provider() {
	case ProviderClaude:
		return "Claude"
	case ProviderGemini:
		return "Gemini"
	default:
		return "OpenAI"
	}
}
