package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// NapcatStrategy 通过 Napcat 的 get_cookies 接口获取 cookie
type NapcatStrategy struct {
	// BaseURL 形如 http://127.0.0.1:9999
	BaseURL string
	Token   string
	Domain  string
	// UIN 返回的 cookie 缺少 uin 时补齐
	UIN string
	// Attempts 连接失败时的最大尝试次数
	Attempts int
	Backoff  time.Duration
	TTL      time.Duration
	Client   *http.Client
	Now      func() time.Time
}

// Name 策略名称
func (n *NapcatStrategy) Name() string { return StrategyNapcat }

// Attempt 获取 cookie，仅在连接失败时按指数退避重试
func (n *NapcatStrategy) Attempt(ctx context.Context) (*Session, error) {
	attempts := n.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	delay := n.Backoff
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		cookies, retryable, err := n.fetch(ctx)
		if err == nil {
			return New(StrategyNapcat, cookies, now(n.Now), ttlOr(n.TTL)), nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}

		logger.Warn("napcat unreachable, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// fetch 请求一次 get_cookies，retryable 表示连接层失败
func (n *NapcatStrategy) fetch(ctx context.Context) (map[string]string, bool, error) {
	domain := n.Domain
	if domain == "" {
		domain = "user.qzone.qq.com"
	}
	payload, err := json.Marshal(map[string]string{"domain": domain})
	if err != nil {
		return nil, false, err
	}

	url := strings.TrimRight(n.BaseURL, "/") + "/get_cookies"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	resp, err := clientOr(n.Client).Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("connect napcat %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("napcat returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			msg += " (token rejected)"
		}
		return nil, false, fmt.Errorf("%s", msg)
	}

	result := gjson.ParseBytes(body)
	raw := result.Get("data.cookies")
	if result.Get("status").String() != "ok" || !raw.Exists() {
		return nil, false, fmt.Errorf("napcat get_cookies failed: status=%q", result.Get("status").String())
	}

	cookies := ParseCookieString(raw.String())
	if _, ok := cookies["uin"]; !ok && n.UIN != "" {
		cookies["uin"] = "o0" + NormalizeUIN(n.UIN)
	}
	return cookies, false, nil
}
