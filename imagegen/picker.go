package imagegen

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/qzone"
	"go.uber.org/zap"
)

// 配图模式
const (
	ModeOnlyAI    = "only_ai"
	ModeOnlyEmoji = "only_emoji"
	ModeRandom    = "random"
)

const (
	donePrefix = "done_"
	emojiDir   = "emoji"
	maxImages  = 4
)

// PromptWriter 根据说说内容写生图提示词
type PromptWriter interface {
	ImagePrompt(ctx context.Context, postText string, withReference bool) (string, error)
}

// Picker 为说说挑选或生成配图
type Picker struct {
	cfg      config.ImageConfig
	gen      Generator
	prompts  PromptWriter
	download *http.Client

	rand func() float64
	now  func() time.Time
}

// NewPicker 创建配图器，gen 为 nil 时只使用本地表情
func NewPicker(cfg config.ImageConfig, gen Generator, prompts PromptWriter, download *http.Client) *Picker {
	if download == nil {
		download = NewSafeClient(60 * time.Second)
	}
	return &Picker{
		cfg:      cfg,
		gen:      gen,
		prompts:  prompts,
		download: download,
		rand:     rand.Float64,
		now:      time.Now,
	}
}

// Mode 实际生效的配图模式
func (p *Picker) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(p.cfg.Mode))
	switch mode {
	case ModeOnlyAI, ModeOnlyEmoji, ModeRandom:
	default:
		mode = ModeRandom
	}
	if p.gen == nil {
		return ModeOnlyEmoji
	}
	return mode
}

// Number 每条说说的配图数量，限制在 1..4
func (p *Picker) Number() int {
	return max(1, min(maxImages, p.cfg.Number))
}

// Pick 为说说准备配图，未启用时返回空
func (p *Picker) Pick(ctx context.Context, postText string) ([]qzone.Image, error) {
	if !p.cfg.Enable {
		return nil, nil
	}

	useAI := false
	switch p.Mode() {
	case ModeOnlyAI:
		useAI = true
	case ModeRandom:
		prob := max(0, min(1, p.cfg.AIProbability))
		useAI = p.rand() < prob
	}

	if useAI {
		return p.generate(ctx, postText)
	}
	return p.pickEmoji()
}

// generate 生成配图写入 image.dir，只上传本次生成的图片
func (p *Picker) generate(ctx context.Context, postText string) ([]qzone.Image, error) {
	reference := ""
	if p.cfg.Reference != "" {
		ref, err := ReferenceDataURL(config.ExpandUserPath(p.cfg.Reference))
		if err != nil {
			logger.Warn("Reference image unavailable", zap.Error(err))
		} else {
			reference = ref
		}
	}

	prompt := postText
	if p.prompts != nil {
		generated, err := p.prompts.ImagePrompt(ctx, postText, reference != "")
		if err != nil {
			logger.Warn("Image prompt generation failed, using post text", zap.Error(err))
		} else {
			prompt = generated
		}
	}
	logger.Info("Generating post image", zap.String("provider", p.gen.Name()), zap.String("prompt", prompt))

	urls, err := p.gen.Generate(ctx, Request{Prompt: prompt, Number: p.Number(), Reference: reference})
	if err != nil {
		return nil, err
	}

	dir := p.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	if len(urls) > p.Number() {
		urls = urls[:p.Number()]
	}
	stamp := p.now().Format("20060102_150405")
	images := make([]qzone.Image, 0, len(urls))
	for i, u := range urls {
		img, err := p.save(ctx, u, dir, fmt.Sprintf("%s_%s_%d", p.gen.Name(), stamp, i))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	p.markUsed(dir, images)
	return images, nil
}

// save 下载图片写入 dir，返回带扩展名的文件
func (p *Picker) save(ctx context.Context, url, dir, base string) (qzone.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return qzone.Image{}, err
	}
	resp, err := p.download.Do(req)
	if err != nil {
		return qzone.Image{}, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return qzone.Image{}, fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return qzone.Image{}, fmt.Errorf("download image: %w", err)
	}
	name := base + extensionFor(data)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return qzone.Image{}, fmt.Errorf("save image: %w", err)
	}
	return qzone.Image{Name: name, Data: data}, nil
}

// markUsed 把要上传的图片改名为 done_{时间}_{原名}，目录里的其他文件不动
func (p *Picker) markUsed(dir string, images []qzone.Image) {
	stamp := p.now().Format("20060102_150405")
	for _, img := range images {
		if !isImageName(img.Name) {
			continue
		}
		full := filepath.Join(dir, img.Name)
		if err := os.Rename(full, filepath.Join(dir, donePrefix+stamp+"_"+img.Name)); err != nil {
			logger.Warn("Failed to mark image used", zap.String("file", img.Name), zap.Error(err))
		}
	}
}

// pickEmoji 从 {image.dir}/emoji 随机挑选表情图，表情可重复使用
func (p *Picker) pickEmoji() ([]qzone.Image, error) {
	dir := filepath.Join(p.dir(), emojiDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logger.Warn("Emoji directory missing, posting without images", zap.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read emoji dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	n := min(p.Number(), len(names))
	images := make([]qzone.Image, 0, n)
	for _, i := range rand.Perm(len(names))[:n] {
		data, err := os.ReadFile(filepath.Join(dir, names[i]))
		if err != nil {
			return nil, fmt.Errorf("read emoji %s: %w", names[i], err)
		}
		images = append(images, qzone.Image{Name: names[i], Data: data})
	}
	return images, nil
}

func (p *Picker) dir() string {
	if p.cfg.Dir == "" {
		return "images"
	}
	return config.ExpandUserPath(p.cfg.Dir)
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

func extensionFor(data []byte) string {
	exts, _ := mime.ExtensionsByType(http.DetectContentType(data))
	for _, e := range exts {
		switch e {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp":
			return e
		}
	}
	return ".png"
}
