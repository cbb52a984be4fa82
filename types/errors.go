package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureReason 失败原因类型
type FailureReason string

const (
	// FailureReasonAuth 登录态失效
	FailureReasonAuth FailureReason = "auth"
	// FailureReasonRateLimit 操作过于频繁
	FailureReasonRateLimit FailureReason = "rate_limit"
	// FailureReasonTimeout 超时
	FailureReasonTimeout FailureReason = "timeout"
	// FailureReasonForbidden 对方设置了访问权限
	FailureReasonForbidden FailureReason = "forbidden"
	// FailureReasonUnknown 未知错误
	FailureReasonUnknown FailureReason = "unknown"
)

// AuthError 所有登录策略均失败，或登录态被远端拒绝
type AuthError struct {
	Strategy string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("qzone auth failed (%s): %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("qzone auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PermissionDenied 请求者不在允许列表中
type PermissionDenied struct {
	UserID     string
	Capability string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s for %s", e.Capability, e.UserID)
}

// FetchError 动态读取或解析失败
type FetchError struct {
	Target string
	Reason FailureReason
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed of %s: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PublishError 发布说说失败
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish post: %v", e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }

// LikeError 点赞失败
type LikeError struct {
	Target string
	TID    string
	Err    error
}

func (e *LikeError) Error() string {
	return fmt.Sprintf("like %s/%s: %v", e.Target, e.TID, e.Err)
}

func (e *LikeError) Unwrap() error { return e.Err }

// CommentError 评论或回复失败
type CommentError struct {
	Target string
	TID    string
	Err    error
}

func (e *CommentError) Error() string {
	return fmt.Sprintf("comment %s/%s: %v", e.Target, e.TID, e.Err)
}

func (e *CommentError) Unwrap() error { return e.Err }

// TransientNetworkError 超时或连接失败
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// IsAuth 判断是否为登录错误
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsPermissionDenied 判断是否为权限错误
func IsPermissionDenied(err error) bool {
	var denied *PermissionDenied
	return errors.As(err, &denied)
}

// IsTransient 判断是否为临时网络错误
func IsTransient(err error) bool {
	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WrapTransport 将网络层错误包装为 TransientNetworkError
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	return err
}

// UserMessage 将错误转换为面向用户的说明，不暴露远端原始响应
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		fetchErr   *FetchError
		publishErr *PublishError
		likeErr    *LikeError
		commentErr *CommentError
	)

	switch {
	case IsPermissionDenied(err):
		return "权限不足，无法执行这个操作"
	case IsAuth(err):
		return "QQ空间登录失效了，需要管理员重新登录"
	case IsTransient(err):
		return "网络有点问题，稍后再试试吧"
	case errors.As(err, &fetchErr):
		if fetchErr.Reason == FailureReasonForbidden {
			return "没有权限查看对方的空间"
		}
		return "没能读取到说说"
	case errors.As(err, &publishErr):
		return "说说发送失败了"
	case errors.As(err, &likeErr):
		return "点赞失败了"
	case errors.As(err, &commentErr):
		return "评论失败了"
	default:
		return "出了点问题，稍后再试试吧"
	}
}

// ErrorClassifier 错误分类器接口
type ErrorClassifier interface {
	ClassifyError(err error) FailureReason
	IsRetryable(err error) bool
}

// SimpleErrorClassifier 基于消息文本的错误分类器
type SimpleErrorClassifier struct {
	authPatterns      []string
	rateLimitPatterns []string
	timeoutPatterns   []string
	forbiddenPatterns []string
}

// NewSimpleErrorClassifier 创建简单错误分类器
func NewSimpleErrorClassifier() *SimpleErrorClassifier {
	return &SimpleErrorClassifier{
		authPatterns: []string{
			"请先登录", "登录态", "未登录", "invalid token",
			"unauthorized", "re-authenticate", "401", "403", "-3000", "-4001",
		},
		rateLimitPatterns: []string{
			"操作过于频繁", "rate limit", "too many requests", "429", "-10000",
		},
		timeoutPatterns: []string{
			"timeout", "timed out", "deadline exceeded", "超时",
		},
		forbiddenPatterns: []string{
			"访问权限", "没有权限", "无权访问", "-10031",
		},
	}
}

// ClassifyError 分类错误
func (c *SimpleErrorClassifier) ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureReasonUnknown
	}
	if IsAuth(err) {
		return FailureReasonAuth
	}
	if IsTransient(err) {
		return FailureReasonTimeout
	}

	msg := strings.ToLower(err.Error())

	if c.matchesAny(msg, c.authPatterns) {
		return FailureReasonAuth
	}
	if c.matchesAny(msg, c.rateLimitPatterns) {
		return FailureReasonRateLimit
	}
	if c.matchesAny(msg, c.timeoutPatterns) {
		return FailureReasonTimeout
	}
	if c.matchesAny(msg, c.forbiddenPatterns) {
		return FailureReasonForbidden
	}

	return FailureReasonUnknown
}

// IsRetryable 是否值得在下一轮重试
func (c *SimpleErrorClassifier) IsRetryable(err error) bool {
	switch c.ClassifyError(err) {
	case FailureReasonRateLimit, FailureReasonTimeout:
		return true
	default:
		return false
	}
}

// matchesAny 检查错误消息是否匹配任何模式
func (c *SimpleErrorClassifier) matchesAny(msg string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
