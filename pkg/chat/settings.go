package chat

// ChatSettings is the per-profile configuration persisted by the store.
type ChatSettings struct {
	Model              ModelType `json:"model" yaml:"model"`
	Temperature        float64   `json:"temperature" yaml:"temperature"`
	MaxTokens          int       `json:"maxTokens" yaml:"max_tokens"`
	UseContext         bool      `json:"useContext" yaml:"use_context"`
	MaxContextMessages int       `json:"maxContextMessages" yaml:"max_context_messages"`
	TokenLimit         int       `json:"tokenLimit" yaml:"token_limit"`
}

func DefaultSettings() ChatSettings {
	return ChatSettings{
		Model:              DefaultModel,
		Temperature:        0.7,
		MaxTokens:          1000,
		UseContext:         true,
		MaxContextMessages: 10,
		TokenLimit:         8000,
	}
}

// SettingsPatch carries a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	Model              *ModelType
	Temperature        *float64
	MaxTokens          *int
	UseContext         *bool
	MaxContextMessages *int
	TokenLimit         *int
}

func (s ChatSettings) Apply(p SettingsPatch) ChatSettings {
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.UseContext != nil {
		s.UseContext = *p.UseContext
	}
	if p.MaxContextMessages != nil {
		s.MaxContextMessages = *p.MaxContextMessages
	}
	if p.TokenLimit != nil {
		s.TokenLimit = *p.TokenLimit
	}
	return s
}
