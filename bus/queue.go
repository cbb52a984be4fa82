package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/maizone/internal/logger"
	"go.uber.org/zap"
)

// ErrBusClosed 总线已关闭
var ErrBusClosed = errors.New("message bus is closed")

const defaultBufferSize = 64

// MessageBus 通道和 Agent 之间的两条有界队列：入站由 Agent 消费，出站由通道管理器分发
type MessageBus struct {
	in   chan *InboundMessage
	out  chan *OutboundMessage
	done chan struct{}
	once sync.Once
}

// NewMessageBus 创建消息总线，队列满时发布方阻塞
func NewMessageBus(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MessageBus{
		in:   make(chan *InboundMessage, bufferSize),
		out:  make(chan *OutboundMessage, bufferSize),
		done: make(chan struct{}),
	}
}

// PublishInbound 投递入站消息，缺省的 ID 和时间在这里补上
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg == nil {
		return errors.New("bus: nil inbound message")
	}
	stamp(&msg.ID, &msg.Timestamp)
	return push(ctx, b.done, b.in, msg)
}

// ConsumeInbound 取出一条入站消息
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	return pop(ctx, b.done, b.in)
}

// PublishOutbound 投递出站回复
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	if msg == nil {
		return errors.New("bus: nil outbound message")
	}
	stamp(&msg.ID, &msg.Timestamp)
	logger.Debug("Outbound message queued",
		zap.String("id", msg.ID),
		zap.String("channel", msg.Channel),
		zap.String("chat_id", msg.ChatID))
	return push(ctx, b.done, b.out, msg)
}

// ConsumeOutbound 取出一条出站回复
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (*OutboundMessage, error) {
	return pop(ctx, b.done, b.out)
}

// Close 关闭总线，阻塞中的收发方都返回 ErrBusClosed，队列中未取走的消息丢弃
func (b *MessageBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

// IsClosed 是否已关闭
func (b *MessageBus) IsClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Pending 两条队列中等待处理的消息数
func (b *MessageBus) Pending() (inbound, outbound int) {
	return len(b.in), len(b.out)
}

func stamp(id *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if ts.IsZero() {
		*ts = time.Now()
	}
}

func push[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, v T) error {
	// 已关闭时不再入队，即使队列还有空位
	select {
	case <-done:
		return ErrBusClosed
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pop[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, error) {
	var zero T
	select {
	case <-done:
		return zero, ErrBusClosed
	default:
	}
	select {
	case v := <-ch:
		return v, nil
	case <-done:
		return zero, ErrBusClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
