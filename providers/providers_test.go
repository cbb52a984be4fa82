package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/types"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	content string
	err     error
	got     []llms.MessageContent
	opts    llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.got = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        m.content,
		GenerationInfo: map[string]any{"InputTokens": 10, "OutputTokens": 5},
	}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(context.Context, Request) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Text: p.text, Provider: p.name}, nil
}

func (p *fakeProvider) Close() error { return nil }

func TestLangChainProviderComplete(t *testing.T) {
	model := &fakeModel{content: "今天天气不错"}
	p := NewLangChainProvider("fake", model, "m1", 0.3, 100)

	resp, err := p.Complete(context.Background(), Request{System: "你是一个人", Prompt: "发条说说", MaxTokens: 50})
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if resp.Text != "今天天气不错" || resp.Provider != "fake" || resp.Tokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(model.got) != 2 || model.got[0].Role != llms.ChatMessageTypeSystem || model.got[1].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("unexpected messages %+v", model.got)
	}
	if model.opts.MaxTokens != 50 || model.opts.Temperature != 0.3 || model.opts.Model != "m1" {
		t.Fatalf("call options = %+v", model.opts)
	}
}

func TestPromptHasNoSystemMessage(t *testing.T) {
	model := &fakeModel{content: "ok"}
	p := NewLangChainProvider("fake", model, "", 0, 0)
	if _, err := p.Complete(context.Background(), Prompt("hi")); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if len(model.got) != 1 || model.got[0].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("messages = %+v, want a single user message", model.got)
	}
}

func TestCompleteSendsImagesWithPrompt(t *testing.T) {
	model := &fakeModel{content: "一只猫"}
	p := NewLangChainProvider("fake", model, "", 0, 0)
	req := Request{Prompt: "描述图片", Images: []string{"https://qpic.example/a.jpg"}}
	if _, err := p.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if len(model.got) != 1 || len(model.got[0].Parts) != 2 {
		t.Fatalf("messages = %+v, want one user message with text and image", model.got)
	}
	if text, ok := model.got[0].Parts[0].(llms.TextContent); !ok || text.Text != "描述图片" {
		t.Fatalf("first part = %#v, want the prompt", model.got[0].Parts[0])
	}
	img, ok := model.got[0].Parts[1].(llms.ImageURLContent)
	if !ok || img.URL != "https://qpic.example/a.jpg" {
		t.Fatalf("second part = %#v, want the image url", model.got[0].Parts[1])
	}
}

func TestLangChainProviderError(t *testing.T) {
	p := NewLangChainProvider("fake", &fakeModel{err: errors.New("boom")}, "", 0, 0)
	if _, err := p.Complete(context.Background(), Prompt("x")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFailoverSwitchesOnRateLimit(t *testing.T) {
	primary := &fakeProvider{name: "openai", err: errors.New("429 too many requests")}
	fallback := &fakeProvider{name: "anthropic", text: "备用"}
	f := NewFailover(primary, fallback, types.NewSimpleErrorClassifier())

	resp, err := f.Complete(context.Background(), Prompt("x"))
	if err != nil || resp.Text != "备用" || resp.Provider != "anthropic" {
		t.Fatalf("Complete() = %+v, %v; want fallback answer", resp, err)
	}

	primary.err = errors.New("invalid prompt")
	if _, err := f.Complete(context.Background(), Prompt("x")); err == nil {
		t.Fatalf("non-switchable error should surface")
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.calls)
	}
	if f.Name() != "openai|anthropic" {
		t.Fatalf("Name() = %q", f.Name())
	}
}

func TestFailoverPausesPrimary(t *testing.T) {
	now := time.Unix(1700000000, 0)
	primary := &fakeProvider{name: "p", err: errors.New("rate limit")}
	fallback := &fakeProvider{name: "f", text: "ok"}
	f := NewFailover(primary, fallback, types.NewSimpleErrorClassifier())
	f.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, err := f.Complete(context.Background(), Prompt("x")); err != nil {
			t.Fatalf("Complete() #%d failed: %v", i, err)
		}
	}
	if primary.calls != 3 || !f.Paused() {
		t.Fatalf("primary calls = %d paused = %v, want 3 calls then paused", primary.calls, f.Paused())
	}

	// 暂停期过后试一次，仍失败则立即重新暂停
	now = now.Add(failoverCooldown)
	if _, err := f.Complete(context.Background(), Prompt("x")); err != nil {
		t.Fatalf("Complete() after cooldown failed: %v", err)
	}
	if primary.calls != 4 || !f.Paused() {
		t.Fatalf("primary calls = %d paused = %v, want one probe then paused", primary.calls, f.Paused())
	}

	now = now.Add(failoverCooldown)
	primary.err = nil
	primary.text = "主"
	resp, err := f.Complete(context.Background(), Prompt("x"))
	if err != nil || resp.Text != "主" || f.Paused() {
		t.Fatalf("Complete() = %+v, %v paused=%v; want primary back", resp, err, f.Paused())
	}
}

func TestNewProviderRequiresKey(t *testing.T) {
	if _, err := NewProvider(config.ProvidersConfig{}); err == nil {
		t.Fatalf("expected error without api keys")
	}
}

func TestNewProviderBothKeys(t *testing.T) {
	p, err := NewProvider(config.ProvidersConfig{
		Model:     "openai:gpt-4o-mini",
		OpenAI:    config.OpenAIProviderConfig{APIKey: "k1"},
		Anthropic: config.AnthropicProviderConfig{APIKey: "k2"},
	})
	if err != nil {
		t.Fatalf("NewProvider() failed: %v", err)
	}
	if _, ok := p.(*Failover); !ok || p.Name() != "openai|anthropic" {
		t.Fatalf("provider = %T %q, want failover", p, p.Name())
	}
}

func TestDetermineProvider(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.ProvidersConfig
		want  ProviderType
		model string
	}{
		{"prefix anthropic", config.ProvidersConfig{Model: "anthropic:claude-x"}, ProviderTypeAnthropic, "claude-x"},
		{"openai key", config.ProvidersConfig{Model: "deepseek-chat", OpenAI: config.OpenAIProviderConfig{APIKey: "k"}}, ProviderTypeOpenAI, "deepseek-chat"},
		{"only anthropic key", config.ProvidersConfig{Anthropic: config.AnthropicProviderConfig{APIKey: "k"}}, ProviderTypeAnthropic, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, model, err := determineProvider(tt.cfg)
			if err != nil {
				t.Fatalf("determineProvider() failed: %v", err)
			}
			if got != tt.want || model != tt.model {
				t.Fatalf("determineProvider() = %s %q, want %s %q", got, model, tt.want, tt.model)
			}
		})
	}
}
