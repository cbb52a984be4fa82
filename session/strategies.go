package session

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/smallnest/maizone/config"
)

// BuildStrategies 按配置顺序创建登录策略。
// 返回的 QRCodeStrategy 供管理接口读取最新二维码，未启用扫码时为 nil。
func BuildStrategies(cfg *config.Config, files *FileStore, presenter QRPresenter, client *http.Client) ([]Strategy, *QRCodeStrategy, error) {
	var (
		out []Strategy
		qr  *QRCodeStrategy
	)
	for _, name := range cfg.Session.Strategies {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case StrategyNapcat:
			out = append(out, &NapcatStrategy{
				BaseURL: fmt.Sprintf("http://%s:%d", cfg.Napcat.Host, cfg.Napcat.Port),
				Token:   cfg.Napcat.Token,
				UIN:     cfg.Bot.QQ,
				TTL:     DefaultTTL,
				Client:  client,
			})
		case StrategyClientKey:
			out = append(out, NewClientKeyStrategy(cfg.Bot.QQ, cfg.Session.ClientKey.Port, client))
		case StrategyQRCode:
			qr = NewQRCodeStrategy(presenter, time.Duration(cfg.Session.QRCode.TimeoutSeconds)*time.Second, client)
			out = append(out, qr)
		case StrategyCache:
			out = append(out, &CacheStrategy{UIN: cfg.Bot.QQ, Files: files})
		default:
			return nil, nil, fmt.Errorf("unknown login strategy %q", name)
		}
	}
	return out, qr, nil
}

func clientOr(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// noRedirect 复制 client 并禁止自动跳转
func noRedirect(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}

// mergeCookies 合并响应中的非空 cookie
func mergeCookies(jar map[string]string, resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Value != "" {
			jar[c.Name] = c.Value
		}
	}
}

func now(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now()
}

func ttlOr(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

func randFloat() float64 {
	return rand.Float64()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
