package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

const (
	// 主提供商连续失败多少次后暂停
	failoverThreshold = 3
	// 暂停多久后再试主提供商
	failoverCooldown = 5 * time.Minute
)

// Failover 主提供商鉴权失败、限流或超时时改用备用提供商，
// 连续失败后一段时间内直接走备用
type Failover struct {
	primary    Provider
	fallback   Provider
	classifier types.ErrorClassifier

	mu        sync.Mutex
	failures  int
	pausedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewFailover 创建主备提供商
func NewFailover(primary, fallback Provider, classifier types.ErrorClassifier) *Failover {
	return &Failover{
		primary:    primary,
		fallback:   fallback,
		classifier: classifier,
		threshold:  failoverThreshold,
		cooldown:   failoverCooldown,
		now:        time.Now,
	}
}

// Name 主备名称
func (f *Failover) Name() string {
	return f.primary.Name() + "|" + f.fallback.Name()
}

// Complete 先试主提供商，可切换的错误交给备用提供商
func (f *Failover) Complete(ctx context.Context, req Request) (*Response, error) {
	if f.primaryAvailable() {
		resp, err := f.primary.Complete(ctx, req)
		if err == nil {
			f.record(true)
			return resp, nil
		}
		if ctx.Err() != nil || !f.switchable(err) {
			return nil, err
		}
		f.record(false)
		logger.Warn("Primary LLM failed, using fallback",
			zap.String("primary", f.primary.Name()),
			zap.String("fallback", f.fallback.Name()),
			zap.Error(err))
	}
	return f.fallback.Complete(ctx, req)
}

// Paused 主提供商是否处于暂停期
func (f *Failover) Paused() bool {
	return !f.primaryAvailable()
}

func (f *Failover) primaryAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pausedAt.IsZero() {
		return true
	}
	// 暂停期过后放行一次，失败会重新暂停
	if f.now().Sub(f.pausedAt) >= f.cooldown {
		f.pausedAt = time.Time{}
		f.failures = f.threshold - 1
		return true
	}
	return false
}

func (f *Failover) record(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.failures = 0
		return
	}
	f.failures++
	if f.failures >= f.threshold {
		f.pausedAt = f.now()
	}
}

func (f *Failover) switchable(err error) bool {
	switch f.classifier.ClassifyError(err) {
	case types.FailureReasonAuth, types.FailureReasonRateLimit, types.FailureReasonTimeout:
		return true
	}
	return false
}

// Close 关闭主备提供商
func (f *Failover) Close() error {
	return errors.Join(f.primary.Close(), f.fallback.Close())
}
