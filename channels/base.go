package channels

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/maizone/bus"
)

// BaseChannel 聊天通道：把外部消息送进总线，并发送出站回复
type BaseChannel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannelImpl 通道的公共部分：运行状态和入站消息规整
type BaseChannelImpl struct {
	name string
	bus  *bus.MessageBus

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewBaseChannelImpl 创建通道公共部分
func NewBaseChannelImpl(name string, bus *bus.MessageBus) *BaseChannelImpl {
	closed := make(chan struct{})
	close(closed)
	return &BaseChannelImpl{name: name, bus: bus, done: closed}
}

// Name 通道名
func (c *BaseChannelImpl) Name() string {
	return c.name
}

// Start 标记运行，Stop 或 ctx 结束时 Done 关闭；重复调用无副作用
func (c *BaseChannelImpl) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = runCtx.Done()
	return nil
}

// Stop 停止运行，之后可以再次 Start
func (c *BaseChannelImpl) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// Done 通道停止时关闭，未启动时已关闭
func (c *BaseChannelImpl) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// IsRunning 是否运行中
func (c *BaseChannelImpl) IsRunning() bool {
	select {
	case <-c.Done():
		return false
	default:
		return true
	}
}

// PublishInbound 补全通道名和时间后送入总线，没有文字也没有图片的消息直接丢弃
func (c *BaseChannelImpl) PublishInbound(ctx context.Context, msg *bus.InboundMessage) error {
	if strings.TrimSpace(msg.Content) == "" && len(msg.Media) == 0 {
		return nil
	}
	msg.Channel = c.name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	return c.bus.PublishInbound(ctx, msg)
}
