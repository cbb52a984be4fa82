package imagegen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// SiliconFlow 同步生图
type SiliconFlow struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// Name 服务名称
func (s *SiliconFlow) Name() string { return ProviderSiliconFlow }

// Generate 生成图片
func (s *SiliconFlow) Generate(ctx context.Context, req Request) ([]string, error) {
	body := map[string]any{
		"model":           s.Model,
		"prompt":          req.Prompt,
		"negative_prompt": negativePrompt,
		"seed":            rand.Int64N(9999999999) + 1,
	}
	// 只有 Kolors 支持一次多张
	if s.Model == "Kwai-Kolors/Kolors" && req.Number > 1 {
		body["batch_size"] = req.Number
	}
	if req.Reference != "" {
		body["image"] = req.Reference
	}

	data, err := postJSON(ctx, s.Client, strings.TrimRight(s.BaseURL, "/")+"/v1/images/generations", s.APIKey, body, nil)
	if err != nil {
		return nil, fmt.Errorf("siliconflow generate: %w", err)
	}

	var urls []string
	gjson.GetBytes(data, "images.#.url").ForEach(func(_, v gjson.Result) bool {
		if u := v.String(); u != "" {
			urls = append(urls, u)
		}
		return true
	})
	if len(urls) == 0 {
		return nil, fmt.Errorf("siliconflow generate: response has no images")
	}
	return urls, nil
}
