// Package persona 用机器人人设生成说说、评论、回复和配图提示词。
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/providers"
	"github.com/smallnest/maizone/qzone"
	"go.uber.org/zap"
)

// ErrEmptyOutput 模型输出清理后为空
var ErrEmptyOutput = errors.New("model returned empty text")

// maxCaptions 每条说说最多识别的图片数
const maxCaptions = 4

const captionPrompt = "请用一两句中文描述这张图片的内容，只输出描述本身"

const (
	styleGuard  = "不要刻意突出自身学科背景，不要浮夸，不要夸张修辞"
	outputGuard = "不要输出多余内容(包括前后缀，冒号和引号，括号()，表情包，at或 @等 )"
)

// Writer 文案生成器
type Writer struct {
	provider    providers.Provider
	personality string
	style       string
	temperature float64
	maxTokens   int
	showPrompt  bool
	captions    bool
}

// NewWriter 创建文案生成器
func NewWriter(p providers.Provider, bot config.BotConfig, llm config.ProvidersConfig) *Writer {
	personality := strings.TrimSpace(bot.Personality)
	if personality == "" {
		personality = "一个普通的QQ用户"
	}
	temperature := llm.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	maxTokens := llm.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Writer{
		provider:    p,
		personality: personality,
		style:       strings.TrimSpace(bot.ReplyStyle),
		temperature: temperature,
		maxTokens:   maxTokens,
		showPrompt:  llm.ShowPrompt,
		captions:    llm.DescribeImages,
	}
}

// Post 写一条说说，topic 为空时主题不限，history 是最近发过的说说
func (w *Writer) Post(ctx context.Context, topic, history string) (string, error) {
	var b strings.Builder
	if topic = strings.TrimSpace(topic); topic != "" {
		fmt.Fprintf(&b, "你是'%s'，你想写一条主题是'%s'的说说发表在qq空间上，\n", w.personality, topic)
	} else {
		fmt.Fprintf(&b, "你是'%s'，你想写一条说说发表在qq空间上，主题不限\n", w.personality)
	}
	w.writeStyle(&b)
	b.WriteString(styleGuard + "，可以适当使用颜文字，\n")
	b.WriteString("只输出一条说说正文的内容，" + outputGuard + "\n")
	if history = strings.TrimSpace(history); history != "" {
		b.WriteString("\n以下是你最近发过的说说，写新说说时注意不要在相隔不长的时间发送相似内容的说说\n")
		b.WriteString(history)
		b.WriteString("\n只输出一条说说正文的内容，" + outputGuard)
	}
	return w.generate(ctx, "post", b.String())
}

// Comment 为好友的说说写评论，转发的说说会带上原文
func (w *Writer) Comment(ctx context.Context, ownerName string, post qzone.Post) (string, error) {
	content := describePost(post, w.describeImages(ctx, post.Images))
	var b strings.Builder
	fmt.Fprintf(&b, "你是'%s'，你正在浏览你好友'%s'的QQ空间，\n", w.personality, ownerName)
	if post.IsRepost() {
		fmt.Fprintf(&b, "你看到了你的好友'%s'在qq空间上转发了一条内容为'%s'的说说，你的好友的评论为'%s'\n",
			ownerName, post.RepostContent, content)
	} else {
		fmt.Fprintf(&b, "你看到了你的好友'%s'qq空间上内容是'%s'的说说，\n", ownerName, content)
	}
	b.WriteString("你想要发表你的一条评论，")
	w.writeReplyTail(&b)
	return w.generate(ctx, "comment", b.String())
}

// Reply 回复别人在机器人说说下的评论
func (w *Writer) Reply(ctx context.Context, postContent string, c qzone.Comment) (string, error) {
	nick := c.Nickname
	if nick == "" {
		nick = c.UIN
	}
	var b strings.Builder
	fmt.Fprintf(&b, "你是'%s'，你的好友'%s'评论了你QQ空间上的一条内容为“%s”说说，\n", w.personality, nick, postContent)
	fmt.Fprintf(&b, "你的好友对该说说的评论为:“%s”，你想要对此评论进行回复\n", c.Content)
	w.writeReplyTail(&b)
	return w.generate(ctx, "reply", b.String())
}

// ImagePrompt 根据说说内容生成配图提示词
func (w *Writer) ImagePrompt(ctx context.Context, postText string, withReference bool) (string, error) {
	var b strings.Builder
	b.WriteString("请根据以下QQ空间说说内容配图，并构建生成配图的风格和prompt。\n")
	fmt.Fprintf(&b, "说说主人信息：'%s'。\n", w.personality)
	fmt.Fprintf(&b, "说说内容:'%s'。\n", postText)
	b.WriteString("请注意：仅回复用于生成图片的prompt，" + outputGuard)
	if withReference {
		b.WriteString("\n说说主人的人设参考图片将随同提示词一起发送给生图AI，可使用'in the style of'或'基于此图'等描述引导生成风格")
	}
	return w.generate(ctx, "image_prompt", b.String())
}

func (w *Writer) writeStyle(b *strings.Builder) {
	if w.style != "" {
		b.WriteString(w.style)
		b.WriteString("\n")
	}
}

func (w *Writer) writeReplyTail(b *strings.Builder) {
	if w.style != "" {
		b.WriteString(w.style + "，")
	}
	b.WriteString("回复的平淡一些，简短一些，说中文，\n")
	b.WriteString(styleGuard + "，" + outputGuard + "。只输出回复内容")
}

func (w *Writer) generate(ctx context.Context, kind, prompt string) (string, error) {
	if w.showPrompt {
		logger.Info("Persona prompt", zap.String("kind", kind), zap.String("prompt", prompt))
	}
	resp, err := w.provider.Complete(ctx, providers.Request{
		Prompt:      prompt,
		Temperature: w.temperature,
		MaxTokens:   w.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	text := Clean(resp.Text)
	if text == "" {
		return "", fmt.Errorf("generate %s: %w", kind, ErrEmptyOutput)
	}
	return text, nil
}

// describeImages 逐张识别图片和视频封面，识别失败的图片跳过
func (w *Writer) describeImages(ctx context.Context, urls []string) []string {
	if !w.captions {
		return nil
	}
	var out []string
	for _, u := range urls[:min(len(urls), maxCaptions)] {
		resp, err := w.provider.Complete(ctx, providers.Request{
			Prompt:      captionPrompt,
			Images:      []string{u},
			Temperature: w.temperature,
			MaxTokens:   200,
		})
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			logger.Warn("Image description failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if text := Clean(resp.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// describePost 说说正文加上图片描述，作为评论的上下文
func describePost(p qzone.Post, captions []string) string {
	parts := []string{p.Content}
	for _, c := range captions {
		parts = append(parts, "[图片："+c+"]")
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
