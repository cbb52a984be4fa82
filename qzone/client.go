// Package qzone 是 QQ空间 Web 接口的客户端。
//
// 所有操作共享一个 http.Client 和登录态管理器提供的登录态。
// 远端拒绝登录态时客户端会重新获取一次并重试一次，仍失败则返回 types.AuthError。
// 读取和点赞遇到临时网络错误时再试一次，发布和评论不重试以免重复。
// 权限判断由调用方负责，客户端只代表机器人账号本身。
package qzone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/internal/metrics"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

// errSessionRejected 远端拒绝当前登录态
var errSessionRejected = errors.New("qzone rejected the session")

// authCodes 表示登录态失效的返回码
var authCodes = map[int64]bool{
	-3000:  true,
	-4001:  true,
	-10001: true,
}

// forbiddenCodes 表示对方空间设置了访问权限
var forbiddenCodes = map[int64]bool{
	-4009:  true,
	-10031: true,
}

// SessionSource 登录态来源，由 session.Manager 实现
type SessionSource interface {
	Current(ctx context.Context) (*session.Session, error)
	Reacquire(ctx context.Context, stale *session.Session) (*session.Session, error)
}

// Endpoints 空间接口地址
type Endpoints struct {
	Publish string
	Upload  string
	List    string
	Feeds   string
	Like    string
	Comment string
	Reply   string
}

// DefaultEndpoints 线上接口地址
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Publish: "https://user.qzone.qq.com/proxy/domain/taotao.qzone.qq.com/cgi-bin/emotion_cgi_publish_v6",
		Upload:  "https://up.qzone.qq.com/cgi-bin/upload/cgi_upload_image",
		List:    "https://user.qzone.qq.com/proxy/domain/taotao.qq.com/cgi-bin/emotion_cgi_msglist_v6",
		Feeds:   "https://user.qzone.qq.com/proxy/domain/ic2.qzone.qq.com/cgi-bin/feeds/feeds3_html_more",
		Like:    "https://user.qzone.qq.com/proxy/domain/w.qzone.qq.com/cgi-bin/likes/internal_dolike_app",
		Comment: "https://user.qzone.qq.com/proxy/domain/taotao.qzone.qq.com/cgi-bin/emotion_cgi_re_feeds",
		Reply:   "https://h5.qzone.qq.com/proxy/domain/taotao.qzone.qq.com/cgi-bin/emotion_cgi_re_feeds",
	}
}

// Options 客户端选项
type Options struct {
	BotUIN   string
	Sessions SessionSource
	// HTTPClient 为空时按 Timeout 创建
	HTTPClient *http.Client
	Timeout    time.Duration
	// ActionsPerMinute 发布、点赞、评论的速率上限，0 表示不限
	ActionsPerMinute int
	Metrics          metrics.Recorder
	Endpoints        *Endpoints
}

// Client QQ空间客户端
type Client struct {
	botUIN    string
	sessions  SessionSource
	http      *http.Client
	limiter   *rate.Limiter
	metrics   metrics.Recorder
	endpoints Endpoints

	// retryDelay 临时网络错误后重试前的等待
	retryDelay time.Duration

	likedMu    sync.Mutex
	liked      map[string]struct{}
	likedOrder []string
}

// maxLikedMemory 记住的已点赞说说数量上限
const maxLikedMemory = 4096

// NewClient 创建客户端
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}
	hc := *base
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if isLoginPage(req.URL) {
			return errSessionRejected
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}

	limit := rate.Inf
	burst := 1
	if opts.ActionsPerMinute > 0 {
		limit = rate.Limit(float64(opts.ActionsPerMinute) / 60)
		burst = max(1, opts.ActionsPerMinute/10)
	}

	endpoints := DefaultEndpoints()
	if opts.Endpoints != nil {
		endpoints = *opts.Endpoints
	}

	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	return &Client{
		botUIN:    session.NormalizeUIN(opts.BotUIN),
		sessions:  opts.Sessions,
		http:      &hc,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   rec,
		endpoints: endpoints,
		liked:     make(map[string]struct{}),

		retryDelay: time.Second,
	}
}

// BotUIN 机器人 QQ 号
func (c *Client) BotUIN() string { return c.botUIN }

// withSession 使用当前登录态执行 fn，被拒绝时重新获取并重试一次
func (c *Client) withSession(ctx context.Context, fn func(s *session.Session) error) error {
	s, err := c.sessions.Current(ctx)
	if err != nil {
		return asAuth(err)
	}

	err = fn(s)
	if !errors.Is(err, errSessionRejected) {
		return err
	}

	fresh, err := c.sessions.Reacquire(ctx, s)
	if err != nil {
		return asAuth(err)
	}

	err = fn(fresh)
	if errors.Is(err, errSessionRejected) {
		return &types.AuthError{Err: err}
	}
	return err
}

// withRetry 幂等操作：临时网络错误时等待 retryDelay 后再执行一次
func (c *Client) withRetry(ctx context.Context, op string, fn func(s *session.Session) error) error {
	err := c.withSession(ctx, fn)
	if err == nil || !types.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	logger.Warn("Transient network error, retrying once", zap.String("op", op), zap.Error(err))

	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return c.withSession(ctx, fn)
}

// asAuth 登录失败统一为 AuthError，取消原样返回
func asAuth(err error) error {
	if types.IsAuth(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &types.AuthError{Err: err}
}

// passthrough 判断错误是否无需再包装为操作错误
func passthrough(err error) bool {
	return types.IsAuth(err) || types.IsTransient(err) || errors.Is(err, context.Canceled)
}

// request 一次空间接口调用
type request struct {
	endpoint string
	method   string
	url      string
	query    url.Values
	form     url.Values
	referer  string
	// write 为 true 时受速率限制
	write bool
}

// send 发送请求并返回响应体
func (c *Client) send(ctx context.Context, s *session.Session, r request) ([]byte, error) {
	if r.write {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := r.url
	if len(r.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.query.Encode()
	}

	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}
	method := r.method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", s.CookieHeader())
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Origin", "https://user.qzone.qq.com")
	}
	referer := r.referer
	if referer == "" {
		referer = "https://user.qzone.qq.com/" + c.botUIN
	}
	req.Header.Set("Referer", referer)

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.RecordRequestLatency(r.endpoint, time.Since(start))
	if err != nil {
		if errors.Is(err, errSessionRejected) {
			return nil, errSessionRejected
		}
		return nil, types.WrapTransport(r.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, types.WrapTransport(r.endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errSessionRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned status %d", r.endpoint, resp.StatusCode)
	}

	if code, ok := responseCode(data); ok && authCodes[code] {
		return nil, errSessionRejected
	}
	return data, nil
}

// isLoginPage 判断跳转目标是否为登录页
func isLoginPage(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, "ptlogin2") {
		return true
	}
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "/login") || strings.HasSuffix(path, "loginsucc.html")
}

// extractJSON 取出 JSONP 或 frameElement.callback 中的 JSON 对象
func extractJSON(data []byte) string {
	text := string(data)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.ReplaceAll(text[start:end+1], ":undefined", ":null")
}

// responseCode 读取返回码，兼容 code 与 ret 两种字段
func responseCode(data []byte) (int64, bool) {
	obj := extractJSON(data)
	if obj == "" {
		return 0, false
	}
	for _, key := range []string{"code", "ret"} {
		if v := gjson.Get(obj, key); v.Exists() && (v.Type == gjson.Number || v.Type == gjson.String) {
			return v.Int(), true
		}
	}
	return 0, false
}

// responseMessage 读取返回信息
func responseMessage(data []byte) string {
	obj := extractJSON(data)
	for _, key := range []string{"message", "msg"} {
		if v := gjson.Get(obj, key); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// gtk 查询参数中的 g_tk
func gtk(s *session.Session) string {
	return fmt.Sprintf("%d", s.GTK())
}
