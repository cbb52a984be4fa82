// Package providers 封装文本生成模型，支持 OpenAI 兼容接口和 Anthropic，两者都配置时自动主备切换。
package providers

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// Request 一次文本生成
type Request struct {
	// System 可选的系统提示
	System string
	Prompt string
	// Temperature 和 MaxTokens 为 0 时使用提供商默认值
	Temperature float64
	MaxTokens   int
	// Images 图片地址，和提示词放在同一条用户消息里
	Images []string
}

// Response 生成结果
type Response struct {
	Text string
	// Provider 实际应答的提供商，主备切换后可能是备用的
	Provider string
	Tokens   int
}

// Provider 文本生成模型
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Prompt 只有用户提示词的请求
func Prompt(text string) Request {
	return Request{Prompt: text}
}

func (r Request) messages() []llms.MessageContent {
	out := make([]llms.MessageContent, 0, 2)
	if r.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, r.System))
	}
	if len(r.Images) == 0 {
		return append(out, llms.TextParts(llms.ChatMessageTypeHuman, r.Prompt))
	}
	parts := []llms.ContentPart{llms.TextPart(r.Prompt)}
	for _, img := range r.Images {
		parts = append(parts, llms.ImageURLPart(img))
	}
	return append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
}
