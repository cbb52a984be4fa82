package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"go.uber.org/zap"
)

// 空间扫码登录参数
const (
	qzoneAppID    = "549000912"
	qzoneDaID     = "5"
	qzoneLoginURL = "https://qzs.qzone.qq.com/qzone/v5/loginsucc.html?para=izone"
)

// ErrQRCodeExpired 二维码已失效
var ErrQRCodeExpired = errors.New("qr code expired")

// QRPresenter 将二维码交给操作者
type QRPresenter interface {
	Present(ctx context.Context, png []byte) error
}

// QRPresenterFunc 函数适配器
type QRPresenterFunc func(ctx context.Context, png []byte) error

// Present 调用函数本身
func (f QRPresenterFunc) Present(ctx context.Context, png []byte) error { return f(ctx, png) }

// FilePresenter 将二维码写入文件
type FilePresenter struct {
	Path string
}

// Present 写入二维码图片
func (p FilePresenter) Present(_ context.Context, png []byte) error {
	if p.Path == "" {
		return errors.New("qr code output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(p.Path, png, 0600); err != nil {
		return err
	}
	logger.Info("qr code written, scan it with mobile QQ", zap.String("path", p.Path))
	return nil
}

// MultiPresenter 依次交给多个展示方，任一成功即可
type MultiPresenter []QRPresenter

// Present 展示二维码
func (m MultiPresenter) Present(ctx context.Context, png []byte) error {
	var errs []error
	delivered := false
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Present(ctx, png); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return errors.New("no qr code presenter configured")
	}
	return errors.Join(errs...)
}

// QRCodeStrategy 扫码登录
type QRCodeStrategy struct {
	Presenter    QRPresenter
	Timeout      time.Duration
	PollInterval time.Duration
	TTL          time.Duration
	Client       *http.Client
	Now          func() time.Time

	ShowURL     string
	PollURL     string
	CheckSigURL string

	mu     sync.RWMutex
	latest []byte
}

// NewQRCodeStrategy 创建扫码登录策略
func NewQRCodeStrategy(presenter QRPresenter, timeout time.Duration, client *http.Client) *QRCodeStrategy {
	return &QRCodeStrategy{
		Presenter:    presenter,
		Timeout:      timeout,
		PollInterval: 2 * time.Second,
		TTL:          DefaultTTL,
		Client:       client,
		ShowURL:      "https://xui.ptlogin2.qq.com/ssl/ptqrshow",
		PollURL:      "https://xui.ptlogin2.qq.com/ssl/ptqrlogin",
		CheckSigURL:  "https://ptlogin2.qzone.qq.com/check_sig",
	}
}

// Name 策略名称
func (q *QRCodeStrategy) Name() string { return StrategyQRCode }

// Latest 返回最近一次生成的二维码
func (q *QRCodeStrategy) Latest() ([]byte, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.latest) == 0 {
		return nil, false
	}
	return append([]byte(nil), q.latest...), true
}

// Attempt 生成二维码并轮询扫码结果
func (q *QRCodeStrategy) Attempt(ctx context.Context) (*Session, error) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer q.setLatest(nil)

	png, qrsig, err := q.show(ctx)
	if err != nil {
		return nil, err
	}
	q.setLatest(png)

	if q.Presenter != nil {
		if err := q.Presenter.Present(ctx, png); err != nil {
			return nil, fmt.Errorf("present qr code: %w", err)
		}
	}

	interval := q.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	token := PtQRToken(qrsig)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for qr scan: %w", ctx.Err())
		case <-ticker.C:
		}

		cookies, done, err := q.poll(ctx, qrsig, token)
		if err != nil {
			return nil, err
		}
		if done {
			return New(StrategyQRCode, cookies, now(q.Now), ttlOr(q.TTL)), nil
		}
	}
}

func (q *QRCodeStrategy) setLatest(png []byte) {
	q.mu.Lock()
	q.latest = png
	q.mu.Unlock()
}

// show 获取二维码图片和 qrsig
func (q *QRCodeStrategy) show(ctx context.Context) ([]byte, string, error) {
	params := url.Values{}
	params.Set("appid", qzoneAppID)
	params.Set("e", "2")
	params.Set("l", "M")
	params.Set("s", "3")
	params.Set("d", "72")
	params.Set("v", "4")
	params.Set("t", strconv.FormatFloat(randFloat(), 'f', 16, 64))
	params.Set("daid", qzoneDaID)
	params.Set("pt_3rd_aid", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.ShowURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := clientOr(q.Client).Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request qr code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("qr code request returned status %d", resp.StatusCode)
	}
	png, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read qr code: %w", err)
	}

	for _, c := range resp.Cookies() {
		if c.Name == "qrsig" && c.Value != "" {
			return png, c.Value, nil
		}
	}
	return nil, "", errors.New("qr code response has no qrsig cookie")
}

var (
	ptuiCBPattern = regexp.MustCompile(`ptuiCB\('0','0','([^']+)'`)
	ptsigxPattern = regexp.MustCompile(`ptsigx=([A-Za-z0-9]+)`)
	uinPattern    = regexp.MustCompile(`uin=(\d+)`)
)

// poll 查询一次扫码状态，done 为 true 时 cookies 可用
func (q *QRCodeStrategy) poll(ctx context.Context, qrsig, token string) (map[string]string, bool, error) {
	params := url.Values{}
	params.Set("u1", qzoneLoginURL)
	params.Set("ptqrtoken", token)
	params.Set("ptredirect", "0")
	params.Set("h", "1")
	params.Set("t", "1")
	params.Set("g", "1")
	params.Set("from_ui", "1")
	params.Set("ptlang", "2052")
	params.Set("action", fmt.Sprintf("0-0-%d", now(q.Now).UnixMilli()))
	params.Set("js_type", "1")
	params.Set("pt_uistyle", "40")
	params.Set("aid", qzoneAppID)
	params.Set("daid", qzoneDaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.PollURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.AddCookie(&http.Cookie{Name: "qrsig", Value: qrsig})

	resp, err := clientOr(q.Client).Do(req)
	if err != nil {
		// 单次轮询失败不终止，等待下一轮
		logger.Debug("qr poll failed", zap.Error(err))
		return nil, false, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	text := string(body)

	switch {
	case containsAny(text, "二维码已失效"):
		return nil, false, ErrQRCodeExpired
	case !containsAny(text, "登录成功"):
		return nil, false, nil
	}

	match := ptuiCBPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return nil, false, errors.New("cannot parse qr login callback")
	}
	ptsigx := ptsigxPattern.FindStringSubmatch(match[1])
	uin := uinPattern.FindStringSubmatch(match[1])
	if len(ptsigx) < 2 || len(uin) < 2 {
		return nil, false, errors.New("qr login callback misses ptsigx or uin")
	}

	cookies := make(map[string]string)
	mergeCookies(cookies, resp)
	if err := q.checkSig(ctx, uin[1], ptsigx[1], cookies); err != nil {
		return nil, false, err
	}
	if v := cookies["uin"]; v == "" || v[0] != 'o' {
		cookies["uin"] = "o0" + uin[1]
	}
	return cookies, true, nil
}

// checkSig 用 ptsigx 换取空间 cookie
func (q *QRCodeStrategy) checkSig(ctx context.Context, uin, ptsigx string, jar map[string]string) error {
	params := url.Values{}
	params.Set("pttype", "1")
	params.Set("uin", uin)
	params.Set("service", "ptqrlogin")
	params.Set("nodirect", "0")
	params.Set("ptsigx", ptsigx)
	params.Set("s_url", qzoneLoginURL)
	params.Set("f_url", "")
	params.Set("ptlang", "2052")
	params.Set("ptredirect", "100")
	params.Set("aid", qzoneAppID)
	params.Set("daid", qzoneDaID)
	params.Set("j_later", "0")
	params.Set("low_login_hour", "0")
	params.Set("regmaster", "0")
	params.Set("pt_login_type", "3")
	params.Set("pt_aid", "0")
	params.Set("pt_aaid", "16")
	params.Set("pt_light", "0")
	params.Set("pt_3rd_aid", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.CheckSigURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", browserUA)
	for name, value := range jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := noRedirect(clientOr(q.Client)).Do(req)
	if err != nil {
		return fmt.Errorf("check_sig: %w", err)
	}
	drain(resp)
	mergeCookies(jar, resp)
	if jar["p_skey"] == "" && jar["skey"] == "" {
		return errors.New("check_sig returned no skey")
	}
	return nil
}

// PtQRToken 由 qrsig 计算 ptqrtoken
func PtQRToken(qrsig string) string {
	e := 0
	for i := 0; i < len(qrsig); i++ {
		e += (e << 5) + int(qrsig[i])
	}
	return strconv.Itoa(e & 2147483647)
}
