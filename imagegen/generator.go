// Package imagegen 为说说准备配图：调用生图服务或从本地表情目录挑选。
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/smallnest/maizone/config"
)

// 生图服务名称
const (
	ProviderSiliconFlow = "siliconflow"
	ProviderModelScope  = "modelscope"
)

const negativePrompt = "lowres, bad anatomy, bad hands, text, error, cropped, worst quality, low quality, " +
	"normal quality, jpeg artifacts, signature, watermark, username, blurry"

// Request 生图请求
type Request struct {
	Prompt string
	Number int
	// Reference 参考图 data URL，可为空
	Reference string
}

// Generator 生图服务，返回图片下载地址
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]string, error)
}

// NewGenerator 按配置创建生图服务，未配置 api_key 时返回 nil
func NewGenerator(cfg config.ImageConfig, client *http.Client) (Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderSiliconFlow:
		return &SiliconFlow{
			BaseURL: "https://api.siliconflow.cn",
			APIKey:  cfg.APIKey,
			Model:   firstNonEmpty(cfg.Model, "Kwai-Kolors/Kolors"),
			Client:  client,
		}, nil
	case ProviderModelScope:
		return &ModelScope{
			BaseURL:      "https://api-inference.modelscope.cn",
			APIKey:       cfg.APIKey,
			Model:        firstNonEmpty(cfg.Model, "Qwen/Qwen-Image"),
			Client:       client,
			PollInterval: 5 * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported image provider %q", cfg.Provider)
	}
}

// NewSafeClient 创建下载生图结果用的客户端，拒绝内网和回环地址
func NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// ReferenceDataURL 读取参考图并编码为 data URL
func ReferenceDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference image: %w", err)
	}
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// postJSON 发送 JSON 请求并返回响应体，非 200 视为错误
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image api returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
