package providers

import (
	"fmt"
	"strings"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/types"
)

// ProviderType 提供商类型
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
)

// NewProvider 按配置创建提供商，两家都配置时启用故障转移
func NewProvider(cfg config.ProvidersConfig) (Provider, error) {
	primaryType, model, err := determineProvider(cfg)
	if err != nil {
		return nil, err
	}

	primary, err := createProviderByType(primaryType, cfg, model)
	if err != nil {
		return nil, err
	}

	fallbackType := ProviderTypeAnthropic
	if primaryType == ProviderTypeAnthropic {
		fallbackType = ProviderTypeOpenAI
	}
	if !hasKey(cfg, fallbackType) {
		return primary, nil
	}

	// 备用提供商使用自己的默认模型
	fallback, err := createProviderByType(fallbackType, cfg, "")
	if err != nil {
		return primary, nil
	}
	return NewFailover(primary, fallback, types.NewSimpleErrorClassifier()), nil
}

// createProviderByType 根据类型创建提供商
func createProviderByType(providerType ProviderType, cfg config.ProvidersConfig, model string) (Provider, error) {
	switch providerType {
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, model, cfg.Temperature, cfg.MaxTokens)
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// determineProvider 确定主提供商
func determineProvider(cfg config.ProvidersConfig) (ProviderType, string, error) {
	model := cfg.Model

	switch {
	case strings.HasPrefix(model, "anthropic:"):
		return ProviderTypeAnthropic, strings.TrimPrefix(model, "anthropic:"), nil
	case strings.HasPrefix(model, "openai:"):
		return ProviderTypeOpenAI, strings.TrimPrefix(model, "openai:"), nil
	case strings.HasPrefix(model, "claude-") && cfg.Anthropic.APIKey != "":
		return ProviderTypeAnthropic, model, nil
	}

	if cfg.OpenAI.APIKey != "" {
		return ProviderTypeOpenAI, model, nil
	}
	if cfg.Anthropic.APIKey != "" {
		return ProviderTypeAnthropic, model, nil
	}
	return "", "", fmt.Errorf("no LLM provider API key configured")
}

func hasKey(cfg config.ProvidersConfig, t ProviderType) bool {
	switch t {
	case ProviderTypeOpenAI:
		return cfg.OpenAI.APIKey != ""
	case ProviderTypeAnthropic:
		return cfg.Anthropic.APIKey != ""
	}
	return false
}
