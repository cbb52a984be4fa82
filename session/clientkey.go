package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

// ClientKeyStrategy 借助本机已登录的 QQ 客户端换取 cookie
type ClientKeyStrategy struct {
	UIN string
	// 以下地址默认指向腾讯线上服务
	XLoginURL string
	LocalBase string
	JumpBase  string
	TTL       time.Duration
	Client    *http.Client
	Now       func() time.Time
}

// NewClientKeyStrategy 创建本地客户端登录策略，port 为客户端监听端口
func NewClientKeyStrategy(uin string, port int, client *http.Client) *ClientKeyStrategy {
	if port <= 0 {
		port = 4301
	}
	return &ClientKeyStrategy{
		UIN:       NormalizeUIN(uin),
		XLoginURL: "https://xui.ptlogin2.qq.com/cgi-bin/xlogin?s_url=https%3A%2F%2Fhuifu.qq.com%2Findex.html&style=20&appid=715021417&proxy_url=https%3A%2F%2Fhuifu.qq.com%2Fproxy.html",
		LocalBase: fmt.Sprintf("https://localhost.ptlogin2.qq.com:%d", port),
		JumpBase:  "https://ssl.ptlogin2.qq.com",
		TTL:       DefaultTTL,
		Client:    client,
	}
}

// Name 策略名称
func (c *ClientKeyStrategy) Name() string { return StrategyClientKey }

// Attempt 依次获取 pt_local_token、clientkey，再通过 jump 换取空间 cookie
func (c *ClientKeyStrategy) Attempt(ctx context.Context) (*Session, error) {
	if c.UIN == "" {
		return nil, errors.New("clientkey login needs bot qq")
	}
	jar := make(map[string]string)

	resp, err := c.get(ctx, c.XLoginURL, "", jar)
	if err != nil {
		return nil, fmt.Errorf("xlogin: %w", err)
	}
	token := jar["pt_local_token"]
	drain(resp)
	if token == "" {
		return nil, errors.New("xlogin did not return pt_local_token")
	}

	stURL := fmt.Sprintf("%s/pt_get_st?clientuin=%s&callback=ptui_getst_CB&r=0.7284667321181328&pt_local_tk=%s",
		c.LocalBase, c.UIN, url.QueryEscape(token))
	resp, err = c.get(ctx, stURL, "https://ssl.xui.ptlogin2.qq.com/", jar)
	if err != nil {
		return nil, fmt.Errorf("pt_get_st: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest {
		drain(resp)
		return nil, errors.New("pt_get_st rejected the request, is QQ running and logged in?")
	}
	drain(resp)
	clientKey := jar["clientkey"]
	if clientKey == "" {
		return nil, errors.New("pt_get_st did not return clientkey")
	}

	jumpURL := fmt.Sprintf("%s/jump?ptlang=1033&clientuin=%s&clientkey=%s&u1=%s&keyindex=19",
		c.JumpBase, c.UIN, url.QueryEscape(clientKey),
		url.QueryEscape(fmt.Sprintf("https://user.qzone.qq.com/%s/infocenter", c.UIN)))
	login := make(map[string]string)
	resp, err = c.get(ctx, jumpURL, "", login)
	if err != nil {
		return nil, fmt.Errorf("jump: %w", err)
	}
	location := resp.Header.Get("Location")
	drain(resp)
	if location == "" {
		return nil, errors.New("jump did not redirect")
	}

	resp, err = c.get(ctx, location, "https://ssl.ptlogin2.qq.com/", login)
	if err != nil {
		return nil, fmt.Errorf("check_sig: %w", err)
	}
	drain(resp)

	return New(StrategyClientKey, login, now(c.Now), ttlOr(c.TTL)), nil
}

// get 不跟随跳转地发送请求，把响应 cookie 合并进 jar
func (c *ClientKeyStrategy) get(ctx context.Context, target, referer string, jar map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for name, value := range jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := noRedirect(clientOr(c.Client)).Do(req)
	if err != nil {
		return nil, err
	}
	mergeCookies(jar, resp)
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
