package session

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// DefaultTTL 登录态默认有效期
const DefaultTTL = 24 * time.Hour

// Session QQ空间登录态
type Session struct {
	UIN        string            `json:"uin"`
	Cookies    map[string]string `json:"cookies"`
	Strategy   string            `json:"strategy"`
	AcquiredAt time.Time         `json:"acquired_at"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"`
}

// New 由 cookie 构建登录态，UIN 取自 uin cookie
func New(strategy string, cookies map[string]string, now time.Time, ttl time.Duration) *Session {
	copied := make(map[string]string, len(cookies))
	for k, v := range cookies {
		copied[k] = v
	}
	s := &Session{
		UIN:        UINFromCookie(copied["uin"]),
		Cookies:    copied,
		Strategy:   strategy,
		AcquiredAt: now,
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	return s
}

// Get 读取 cookie
func (s *Session) Get(name string) string {
	if s == nil {
		return ""
	}
	return s.Cookies[name]
}

// CookieHeader 生成 Cookie 请求头，按名称排序保证稳定
func (s *Session) CookieHeader() string {
	if s == nil || len(s.Cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.Cookies[name])
	}
	return b.String()
}

// GTK 计算 g_tk，优先使用 p_skey
func (s *Session) GTK() int {
	key := s.Get("p_skey")
	if key == "" {
		key = s.Get("skey")
	}
	return HashKey(key)
}

// HashKey 空间接口使用的 bkn/g_tk 哈希
func HashKey(key string) int {
	h := int64(5381)
	for i := 0; i < len(key); i++ {
		h += (h << 5) + int64(key[i])
	}
	return int(h & 0x7fffffff)
}

// Expired 是否已过期，ExpiresAt 为空时视为不过期
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Validate 检查登录态是否包含必要的 cookie
func (s *Session) Validate() error {
	if s == nil {
		return errors.New("nil session")
	}
	if s.UIN == "" {
		return errors.New("missing uin cookie")
	}
	if s.Get("p_skey") == "" && s.Get("skey") == "" {
		return errors.New("missing p_skey/skey cookie")
	}
	return nil
}

// sameCookies 判断两个登录态的 cookie 是否完全一致
func sameCookies(a, b *Session) bool {
	if a == nil || b == nil {
		return false
	}
	return a.CookieHeader() == b.CookieHeader()
}

// UINFromCookie 将 "o0123456" 形式的 uin cookie 转换为 QQ 号
func UINFromCookie(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "o")
	return strings.TrimLeft(v, "0")
}

// NormalizeUIN 去掉 QQ 号的前导 0
func NormalizeUIN(uin string) string {
	return strings.TrimLeft(strings.TrimSpace(uin), "0")
}

// ParseCookieString 解析 "a=b; c=d" 形式的 cookie 字符串
func ParseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}
