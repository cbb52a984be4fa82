package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/providers"
	"github.com/smallnest/maizone/qzone"
)

type recordingProvider struct {
	reply string
	err   error
	req   providers.Request
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Complete(_ context.Context, req providers.Request) (*providers.Response, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &providers.Response{Text: p.reply}, nil
}

func (p *recordingProvider) Close() error { return nil }

func newTestWriter(p providers.Provider) *Writer {
	return NewWriter(p,
		config.BotConfig{Personality: "一只猫娘", ReplyStyle: "语气可爱"},
		config.ProvidersConfig{})
}

func TestWriterPost(t *testing.T) {
	p := &recordingProvider{reply: "说说：“今天的云好软”"}
	w := newTestWriter(p)

	text, err := w.Post(context.Background(), "天气", "1. 昨天下雨了")
	if err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	if text != "今天的云好软" {
		t.Fatalf("Post() = %q, want cleaned text", text)
	}
	for _, want := range []string{"一只猫娘", "主题是'天气'", "语气可爱", "昨天下雨了"} {
		if !strings.Contains(p.req.Prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p.req.Prompt)
		}
	}
	if p.req.Temperature != 0.3 || p.req.MaxTokens != 1000 {
		t.Fatalf("request = %+v", p.req)
	}
}

func TestWriterPostWithoutTopic(t *testing.T) {
	p := &recordingProvider{reply: "随便写写"}
	if _, err := newTestWriter(p).Post(context.Background(), "", ""); err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	if !strings.Contains(p.req.Prompt, "主题不限") || strings.Contains(p.req.Prompt, "以前发过") {
		t.Fatalf("unexpected prompt:\n%s", p.req.Prompt)
	}
}

func TestWriterCommentRepost(t *testing.T) {
	p := &recordingProvider{reply: "哈哈"}
	post := qzone.Post{Content: "转发理由", RepostContent: "原文内容"}
	if _, err := newTestWriter(p).Comment(context.Background(), "小明", post); err != nil {
		t.Fatalf("Comment() failed: %v", err)
	}
	if !strings.Contains(p.req.Prompt, "转发了一条内容为'原文内容'") || !strings.Contains(p.req.Prompt, "评论为'转发理由'") {
		t.Fatalf("repost prompt missing original text:\n%s", p.req.Prompt)
	}
}

// captionProvider 图片请求返回描述，文本请求返回评论
type captionProvider struct {
	captions map[string]string
	requests []providers.Request
}

func (p *captionProvider) Name() string { return "caption" }

func (p *captionProvider) Complete(_ context.Context, req providers.Request) (*providers.Response, error) {
	p.requests = append(p.requests, req)
	if len(req.Images) == 0 {
		return &providers.Response{Text: "好可爱"}, nil
	}
	text, ok := p.captions[req.Images[0]]
	if !ok {
		return nil, errors.New("image not supported")
	}
	return &providers.Response{Text: text}, nil
}

func (p *captionProvider) Close() error { return nil }

func TestWriterCommentDescribesImages(t *testing.T) {
	p := &captionProvider{captions: map[string]string{"https://qpic/cat.jpg": "一只橘猫在晒太阳"}}
	w := NewWriter(p, config.BotConfig{Personality: "一只猫娘"}, config.ProvidersConfig{DescribeImages: true})
	post := qzone.Post{Content: "午后", Images: []string{"https://qpic/cat.jpg", "https://qpic/broken.jpg"}}

	text, err := w.Comment(context.Background(), "小明", post)
	if err != nil {
		t.Fatalf("Comment() failed: %v", err)
	}
	if text != "好可爱" {
		t.Fatalf("Comment() = %q", text)
	}
	if len(p.requests) != 3 {
		t.Fatalf("requests = %d, want two image descriptions and one comment", len(p.requests))
	}
	if got := p.requests[0].Images; len(got) != 1 || got[0] != "https://qpic/cat.jpg" {
		t.Fatalf("first image request = %v", got)
	}
	prompt := p.requests[2].Prompt
	if !strings.Contains(prompt, "午后 [图片：一只橘猫在晒太阳]") {
		t.Fatalf("comment prompt missing image description:\n%s", prompt)
	}
	if strings.Contains(prompt, "https://") {
		t.Fatalf("comment prompt leaks image urls:\n%s", prompt)
	}
}

func TestWriterCommentWithoutImageDescriptions(t *testing.T) {
	p := &captionProvider{captions: map[string]string{"https://qpic/cat.jpg": "一只橘猫"}}
	w := NewWriter(p, config.BotConfig{}, config.ProvidersConfig{})
	post := qzone.Post{Content: "午后", Images: []string{"https://qpic/cat.jpg"}}
	if _, err := w.Comment(context.Background(), "小明", post); err != nil {
		t.Fatalf("Comment() failed: %v", err)
	}
	if len(p.requests) != 1 || len(p.requests[0].Images) != 0 {
		t.Fatalf("requests = %+v, want a single text request", p.requests)
	}
}

func TestWriterReply(t *testing.T) {
	p := &recordingProvider{reply: "@小明 谢谢"}
	text, err := newTestWriter(p).Reply(context.Background(), "早上好", qzone.Comment{Nickname: "小明", Content: "早"})
	if err != nil {
		t.Fatalf("Reply() failed: %v", err)
	}
	if text != "谢谢" {
		t.Fatalf("Reply() = %q, want @ removed", text)
	}
}

func TestWriterErrors(t *testing.T) {
	w := newTestWriter(&recordingProvider{err: errors.New("down")})
	if _, err := w.ImagePrompt(context.Background(), "x", false); err == nil {
		t.Fatalf("expected provider error")
	}
	w = newTestWriter(&recordingProvider{reply: "“”"})
	if _, err := w.Post(context.Background(), "", ""); !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("Post() err = %v, want ErrEmptyOutput", err)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  普通文本 ", "普通文本"},
		{"\"带引号\"", "带引号"},
		{"「嵌套」", "嵌套"},
		{"回复：“好的”", "好的"},
		{"<think>想想</think>结果", "结果"},
		{"prompt: a cat in the rain", "a cat in the rain"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
