package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/maizone/bus"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"go.uber.org/zap"
)

// sendTimeout 单条出站消息的发送上限
const sendTimeout = 30 * time.Second

// Manager 持有已注册的通道，并把总线上的出站回复交给对应通道
type Manager struct {
	bus *bus.MessageBus

	mu     sync.RWMutex
	byName map[string]BaseChannel
	order  []string
}

// NewManager 创建通道管理器
func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{bus: b, byName: make(map[string]BaseChannel)}
}

// Register 注册通道，名字不能重复
func (m *Manager) Register(ch BaseChannel) error {
	name := ch.Name()
	if name == "" {
		return errors.New("channel name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byName[name]; dup {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.byName[name] = ch
	m.order = append(m.order, name)
	logger.Info("Channel registered", zap.String("channel", name))
	return nil
}

// Start 按注册顺序启动通道。单个通道启动失败只记录日志，全部失败时返回错误
func (m *Manager) Start(ctx context.Context) error {
	var errs []error
	started := 0
	for _, ch := range m.snapshot() {
		if err := ch.Start(ctx); err != nil {
			logger.Error("Channel failed to start", zap.String("channel", ch.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		started++
	}
	if started == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Stop 按注册的逆序停止通道
func (m *Manager) Stop() error {
	chs := m.snapshot()
	var errs []error
	for i := len(chs) - 1; i >= 0; i-- {
		if err := chs[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chs[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Get 按名字取通道
func (m *Manager) Get(name string) (BaseChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byName[name]
	return ch, ok
}

// Names 注册顺序的通道名
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) snapshot() []BaseChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BaseChannel, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.byName[name])
	}
	return out
}

// DispatchOutbound 持续分发出站回复，ctx 结束时返回其错误，总线关闭时返回 nil。
// 找不到通道或发送失败的消息记录后丢弃
func (m *Manager) DispatchOutbound(ctx context.Context) error {
	for {
		msg, err := m.bus.ConsumeOutbound(ctx)
		if errors.Is(err, bus.ErrBusClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg *bus.OutboundMessage) {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		logger.Warn("Dropping reply for unknown channel", zap.String("channel", msg.Channel), zap.String("chat_id", msg.ChatID))
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		logger.Error("Send reply failed",
			zap.String("channel", msg.Channel),
			zap.String("chat_id", msg.ChatID),
			zap.Error(err))
	}
}

// SetupFromConfig 配置了 napcat ws_url 时注册 napcat 通道
func (m *Manager) SetupFromConfig(cfg *config.Config) error {
	if cfg.Napcat.WSURL == "" {
		logger.Info("Napcat ws_url not set, napcat channel disabled")
		return nil
	}
	ch, err := NewNapcatChannel(cfg.Napcat, cfg.Bot.QQ, m.bus)
	if err != nil {
		return err
	}
	return m.Register(ch)
}
