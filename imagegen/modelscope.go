package imagegen

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ModelScope 异步生图，提交任务后轮询结果
type ModelScope struct {
	BaseURL      string
	APIKey       string
	Model        string
	Client       *http.Client
	PollInterval time.Duration
}

// Name 服务名称
func (m *ModelScope) Name() string { return ProviderModelScope }

// Generate 提交任务并等待完成，ctx 控制总时长
func (m *ModelScope) Generate(ctx context.Context, req Request) ([]string, error) {
	base := strings.TrimRight(m.BaseURL, "/")
	body := map[string]any{
		"model":           m.Model,
		"prompt":          req.Prompt,
		"negative_prompt": negativePrompt,
	}
	if req.Reference != "" {
		body["image"] = req.Reference
	}

	data, err := postJSON(ctx, m.Client, base+"/v1/images/generations", m.APIKey, body,
		map[string]string{"X-ModelScope-Async-Mode": "true"})
	if err != nil {
		return nil, fmt.Errorf("modelscope submit: %w", err)
	}
	taskID := gjson.GetBytes(data, "task_id").String()
	if taskID == "" {
		return nil, fmt.Errorf("modelscope submit: response has no task_id")
	}

	interval := m.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		url, done, err := m.poll(ctx, base, taskID)
		if err != nil {
			return nil, err
		}
		if done {
			return []string{url}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("modelscope task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *ModelScope) poll(ctx context.Context, base, taskID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("X-ModelScope-Task-Type", "image_generation")

	data, err := do(m.Client, req)
	if err != nil {
		return "", false, fmt.Errorf("modelscope poll: %w", err)
	}
	switch status := gjson.GetBytes(data, "task_status").String(); status {
	case "SUCCEED":
		url := gjson.GetBytes(data, "output_images.0").String()
		if url == "" {
			return "", false, fmt.Errorf("modelscope task %s succeeded without images", taskID)
		}
		return url, true, nil
	case "FAILED":
		return "", false, fmt.Errorf("modelscope task %s failed", taskID)
	default:
		return "", false, nil
	}
}
