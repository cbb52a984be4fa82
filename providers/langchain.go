package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// LangChainProvider 用 langchaingo 模型生成文本
type LangChainProvider struct {
	name        string
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
}

// NewLangChainProvider 包装任意 langchaingo 模型
func NewLangChainProvider(name string, llm llms.Model, model string, temperature float64, maxTokens int) *LangChainProvider {
	return &LangChainProvider{name: name, llm: llm, model: model, temperature: temperature, maxTokens: maxTokens}
}

// NewOpenAIProvider OpenAI 兼容接口，baseURL 可指向 DeepSeek、硅基流动等
func NewOpenAIProvider(apiKey, baseURL, model string, temperature float64, maxTokens int) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return NewLangChainProvider(string(ProviderTypeOpenAI), llm, model, temperature, maxTokens), nil
}

// NewAnthropicProvider Anthropic 接口，非 claude 模型名改用默认模型
func NewAnthropicProvider(apiKey, baseURL, model string, temperature float64, maxTokens int) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if !strings.HasPrefix(model, "claude") {
		model = defaultAnthropicModel
	}
	opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return NewLangChainProvider(string(ProviderTypeAnthropic), llm, model, temperature, maxTokens), nil
}

// Name 提供商名称
func (p *LangChainProvider) Name() string {
	return p.name
}

// Complete 生成一段文本
func (p *LangChainProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	temperature, maxTokens := req.Temperature, req.MaxTokens
	if temperature <= 0 {
		temperature = p.temperature
	}
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	var opts []llms.CallOption
	if p.model != "" {
		opts = append(opts, llms.WithModel(p.model))
	}
	if temperature > 0 {
		opts = append(opts, llms.WithTemperature(temperature))
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	out, err := p.llm.GenerateContent(ctx, req.messages(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if out == nil || len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices returned", p.name)
	}
	choice := out.Choices[0]
	return &Response{Text: choice.Content, Provider: p.name, Tokens: totalTokens(choice.GenerationInfo)}, nil
}

// Close 无需释放
func (p *LangChainProvider) Close() error {
	return nil
}

// totalTokens OpenAI 和 Anthropic 上报用量的字段名不同
func totalTokens(info map[string]any) int {
	n := func(key string) int {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return 0
	}
	if total := n("TotalTokens"); total > 0 {
		return total
	}
	return n("PromptTokens") + n("CompletionTokens") + n("InputTokens") + n("OutputTokens")
}
