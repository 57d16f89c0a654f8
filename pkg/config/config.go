package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/ocr"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/providers/claude"
	"github.com/go-go-golems/threadchat/pkg/providers/claude/api"
	"github.com/go-go-golems/threadchat/pkg/providers/gemini"
	"github.com/go-go-golems/threadchat/pkg/providers/openai"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/titles"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"

	DefaultListen = "127.0.0.1:3000"
)

// AppConfig is the resolved configuration of the threadchat binary.
type AppConfig struct {
	OpenAIAPIKey      string `yaml:"openai-api-key" mapstructure:"openai-api-key"`
	OpenAIBaseURL     string `yaml:"openai-base-url,omitempty" mapstructure:"openai-base-url"`
	AnthropicAPIKey   string `yaml:"anthropic-api-key" mapstructure:"anthropic-api-key"`
	ClaudeBaseURL     string `yaml:"claude-base-url,omitempty" mapstructure:"claude-base-url"`
	ClaudeModel       string `yaml:"claude-model,omitempty" mapstructure:"claude-model"`
	GoogleAPIKey      string `yaml:"google-api-key" mapstructure:"google-api-key"`
	GoogleCloudAPIKey string `yaml:"google-cloud-api-key" mapstructure:"google-cloud-api-key"`
	GeminiTextModel   string `yaml:"gemini-text-model,omitempty" mapstructure:"gemini-text-model"`
	GeminiVisionModel string `yaml:"gemini-vision-model,omitempty" mapstructure:"gemini-vision-model"`
	TitleModel        string `yaml:"title-model" mapstructure:"title-model"`
	Storage           string `yaml:"storage" mapstructure:"storage"`
	StoragePath       string `yaml:"storage-path" mapstructure:"storage-path"`
	Listen            string `yaml:"listen" mapstructure:"listen"`
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("claude-model", chat.DefaultClaudeUpstream)
	v.SetDefault("gemini-text-model", string(chat.ModelGeminiPro))
	v.SetDefault("gemini-vision-model", gemini.DefaultVisionModel)
	v.SetDefault("title-model", string(chat.DefaultTitleModel))
	v.SetDefault("storage", StorageFile)
	v.SetDefault("storage-path", DefaultStoragePath())
	v.SetDefault("listen", DefaultListen)
}

// DefaultStoragePath is the threadchat directory below the user config dir.
func DefaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".threadchat"
	}
	return filepath.Join(dir, "threadchat")
}

// FromViper reads the configuration. The provider keys also fall back to the
// environment variable names the providers use themselves.
func FromViper(v *viper.Viper) (*AppConfig, error) {
	ret := &AppConfig{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal config")
	}
	fallbacks := []struct {
		target *string
		env    string
	}{
		{&ret.OpenAIAPIKey, "OPENAI_API_KEY"},
		{&ret.AnthropicAPIKey, "ANTHROPIC_API_KEY"},
		{&ret.GoogleAPIKey, "GOOGLE_API_KEY"},
		{&ret.GoogleCloudAPIKey, "GOOGLE_CLOUD_API_KEY"},
	}
	for _, f := range fallbacks {
		if *f.target == "" {
			*f.target = os.Getenv(f.env)
		}
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *AppConfig) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageFile, StorageSQLite:
	default:
		return errors.Errorf("unknown storage %q (memory, file, sqlite)", c.Storage)
	}
	if c.Storage != StorageMemory && c.StoragePath == "" {
		return errors.New("storage-path is required for persistent storage")
	}
	if c.TitleModel != "" && !chat.ModelType(c.TitleModel).IsKnown() {
		return errors.Errorf("unknown title model %q", c.TitleModel)
	}
	return nil
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}

// Masked returns a copy with API keys obscured.
func (c *AppConfig) Masked() *AppConfig {
	ret := *c
	ret.OpenAIAPIKey = mask(c.OpenAIAPIKey)
	ret.AnthropicAPIKey = mask(c.AnthropicAPIKey)
	ret.GoogleAPIKey = mask(c.GoogleAPIKey)
	ret.GoogleCloudAPIKey = mask(c.GoogleCloudAPIKey)
	return &ret
}

// YAML renders the masked configuration.
func (c *AppConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c.Masked())
}

// OpenBackend opens the configured store backend.
func (c *AppConfig) OpenBackend() (store.Backend, error) {
	switch c.Storage {
	case StorageMemory:
		return store.NewMemoryBackend(), nil
	case StorageFile:
		return store.NewFileBackend(c.StoragePath)
	case StorageSQLite:
		if err := os.MkdirAll(c.StoragePath, 0o755); err != nil {
			return nil, errors.Wrap(err, "could not create storage directory")
		}
		dsn, err := store.SQLiteDSNForFile(filepath.Join(c.StoragePath, "threadchat.db"))
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteBackend(dsn)
	}
	return nil, errors.Errorf("unknown storage %q", c.Storage)
}

// BuildRegistry registers an adapter for every provider that has a key.
// Providers without a key are skipped, requests for them fail with
// providers.ErrUnknownProvider.
func (c *AppConfig) BuildRegistry(ctx context.Context) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if c.OpenAIAPIKey != "" {
		client, err := openai.MakeClient(c.OpenAIAPIKey, c.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		registry.Register(chat.ProviderOpenAI, openai.NewAdapter(client))
	} else {
		log.Debug().Msg("No OpenAI API key, openai models disabled")
	}

	if c.AnthropicAPIKey != "" {
		client := api.NewClient(c.AnthropicAPIKey, c.ClaudeBaseURL)
		registry.Register(chat.ProviderClaude, claude.NewAdapter(client, claude.WithModel(c.ClaudeModel)))
	} else {
		log.Debug().Msg("No Anthropic API key, claude disabled")
	}

	if c.GoogleAPIKey != "" {
		adapter, err := gemini.NewClientAdapter(ctx, c.GoogleAPIKey,
			gemini.WithTextModel(c.GeminiTextModel),
			gemini.WithVisionModel(c.GeminiVisionModel))
		if err != nil {
			return nil, err
		}
		registry.Register(chat.ProviderGemini, adapter)
	} else {
		log.Debug().Msg("No Google API key, gemini disabled")
	}

	return registry, nil
}

func (c *AppConfig) TitleGenerator(adapter providers.Adapter) (*titles.Generator, error) {
	return titles.NewGenerator(adapter, titles.WithModel(chat.ModelType(c.TitleModel)))
}

// TextExtractor returns the Google Vision OCR client, or nil without a key.
func (c *AppConfig) TextExtractor() ocr.TextExtractor {
	if c.GoogleCloudAPIKey == "" {
		return nil
	}
	v, err := ocr.NewVisionClient(c.GoogleCloudAPIKey)
	if err != nil {
		return nil
	}
	return v
}

// ImageAnalyzer returns the OpenAI vision analyzer, or nil without a key.
func (c *AppConfig) ImageAnalyzer() *ocr.ImageAnalyzer {
	if c.OpenAIAPIKey == "" {
		return nil
	}
	client, err := openai.MakeClient(c.OpenAIAPIKey, c.OpenAIBaseURL)
	if err != nil {
		return nil
	}
	return ocr.NewImageAnalyzer(client)
}

var _ ocr.ChatCompleter = (*go_openai.Client)(nil)
