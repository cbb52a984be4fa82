// Package session 管理 QQ空间登录态。
//
// Manager 按顺序尝试一组登录策略（Napcat、本地客户端、扫码、本地缓存），
// 任一成功即保存并返回；全部失败后进入锁定状态，直到管理员重置。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/internal/metrics"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

// 策略名称
const (
	StrategyNapcat    = "napcat"
	StrategyClientKey = "clientkey"
	StrategyQRCode    = "qrcode"
	StrategyCache     = "cache"
)

// ErrLocked 登录策略已耗尽，等待管理员重置
var ErrLocked = errors.New("session acquisition locked, operator reset required")

// Strategy 登录策略
type Strategy interface {
	Name() string
	Attempt(ctx context.Context) (*Session, error)
}

// State 管理器状态
type State string

const (
	// StateEmpty 尚未登录
	StateEmpty State = "empty"
	// StateValid 持有有效登录态
	StateValid State = "valid"
	// StateExpired 登录态已过期，下次使用时重新获取
	StateExpired State = "expired"
	// StateLocked 所有策略均失败
	StateLocked State = "locked"
)

// Status 管理器状态快照
type Status struct {
	State      State     `json:"state"`
	UIN        string    `json:"uin,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Options 管理器选项
type Options struct {
	// UIN 机器人 QQ 号，非空时拒绝其他账号的登录态
	UIN        string
	Strategies []Strategy
	Files      *FileStore
	Metrics    metrics.Recorder
	Now        func() time.Time
}

// Manager 登录态管理器
type Manager struct {
	uin        string
	strategies []Strategy
	files      *FileStore
	metrics    metrics.Recorder
	now        func() time.Time

	// acquireMu 保证同一时间只有一个登录流程
	acquireMu sync.Mutex

	mu      sync.RWMutex
	current *Session
	lockErr error
}

// NewManager 创建登录态管理器
func NewManager(opts Options) *Manager {
	m := &Manager{
		uin:        NormalizeUIN(opts.UIN),
		strategies: append([]Strategy(nil), opts.Strategies...),
		files:      opts.Files,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Current 返回当前有效登录态，没有时执行一次登录
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	if s, ok, err := m.held(); ok {
		return s, err
	}

	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	if s, ok, err := m.held(); ok {
		return s, err
	}
	return m.acquire(ctx, nil)
}

// Reacquire 在远端拒绝 stale 后重新登录。
// 若其他调用方已经替换了 stale，直接返回新的登录态。
func (m *Manager) Reacquire(ctx context.Context, stale *Session) (*Session, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.RLock()
	current, lockErr := m.current, m.lockErr
	m.mu.RUnlock()

	if lockErr != nil {
		return nil, lockErr
	}
	if current != nil && current != stale && !current.Expired(m.now()) {
		return current, nil
	}

	m.mu.Lock()
	if m.current == stale {
		m.current = nil
	}
	m.mu.Unlock()

	return m.acquire(ctx, stale)
}

// Acquire 由管理员触发的强制登录，会先解除锁定
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.Lock()
	m.lockErr = nil
	m.current = nil
	m.mu.Unlock()

	return m.acquire(ctx, nil)
}

// Reset 解除锁定并丢弃当前登录态
func (m *Manager) Reset() {
	m.mu.Lock()
	m.lockErr = nil
	m.current = nil
	m.mu.Unlock()
	logger.Info("session manager reset")
}

// Status 返回状态快照
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lockErr != nil {
		return Status{State: StateLocked, UIN: m.uin, LastError: m.lockErr.Error()}
	}
	if m.current == nil {
		return Status{State: StateEmpty, UIN: m.uin}
	}
	st := Status{
		State:      StateValid,
		UIN:        m.current.UIN,
		Strategy:   m.current.Strategy,
		AcquiredAt: m.current.AcquiredAt,
		ExpiresAt:  m.current.ExpiresAt,
	}
	if m.current.Expired(m.now()) {
		st.State = StateExpired
	}
	return st
}

// held 返回已持有的登录态或锁定错误，ok 为 false 时需要登录
func (m *Manager) held() (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lockErr != nil {
		return nil, true, m.lockErr
	}
	if m.current != nil && !m.current.Expired(m.now()) {
		return m.current, true, nil
	}
	return nil, false, nil
}

// acquire 依次尝试各个策略，调用方需持有 acquireMu
func (m *Manager) acquire(ctx context.Context, rejected *Session) (*Session, error) {
	var errs []error

	for _, strategy := range m.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := strategy.Name()
		s, err := strategy.Attempt(ctx)
		if err == nil {
			err = m.check(s, rejected)
		}
		m.metrics.RecordSessionAcquire(name, metrics.Result(err))

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// 取消不算策略耗尽，不进入锁定
				return nil, ctxErr
			}
			logger.Warn("login strategy failed",
				zap.String("strategy", name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		if s.Strategy == "" {
			s.Strategy = name
		}
		if name != StrategyCache && m.files != nil {
			if err := m.files.Save(s); err != nil {
				logger.Warn("failed to persist session",
					zap.String("strategy", name),
					zap.Error(err))
			}
		}

		m.mu.Lock()
		m.current = s
		m.lockErr = nil
		m.mu.Unlock()

		logger.Info("qzone session acquired",
			zap.String("strategy", name),
			zap.String("uin", s.UIN),
			zap.Time("expires_at", s.ExpiresAt))
		return s, nil
	}

	cause := errors.Join(errs...)
	if cause == nil {
		cause = errors.New("no login strategy configured")
	}
	authErr := &types.AuthError{Err: errors.Join(ErrLocked, cause)}

	m.mu.Lock()
	m.current = nil
	m.lockErr = authErr
	m.mu.Unlock()

	logger.Error("all login strategies failed, waiting for operator", zap.Error(cause))
	return nil, authErr
}

// check 校验策略返回的登录态
func (m *Manager) check(s *Session, rejected *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if m.uin != "" && NormalizeUIN(s.UIN) != m.uin {
		return fmt.Errorf("session belongs to %s, expected %s", s.UIN, m.uin)
	}
	if s.Expired(m.now()) {
		return errors.New("session already expired")
	}
	if sameCookies(s, rejected) {
		return errors.New("cookies were already rejected by qzone")
	}
	return nil
}
