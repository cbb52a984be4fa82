package channels

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/smallnest/maizone/bus"
)

// ConsoleChannelName 本地控制台通道名
const ConsoleChannelName = "console"

// ConsoleChannel 本地控制台通道，入站由 REPL 写入，出站打印到 out
type ConsoleChannel struct {
	*BaseChannelImpl
	operator string
	out      io.Writer
	mu       sync.Mutex
}

// NewConsoleChannel 创建控制台通道，operator 为控制台使用者身份
func NewConsoleChannel(operator string, out io.Writer, bus *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannelImpl: NewBaseChannelImpl(ConsoleChannelName, bus),
		operator:        operator,
		out:             out,
	}
}

// Submit 将一行输入作为入站消息
func (c *ConsoleChannel) Submit(ctx context.Context, line string) error {
	return c.PublishInbound(ctx, &bus.InboundMessage{
		SenderID:   c.operator,
		SenderName: "console",
		ChatID:     c.operator,
		ChatType:   bus.ChatTypePrivate,
		Content:    line,
		Metadata:   map[string]string{bus.MetaAtBot: "true"},
	})
}

// Send 打印出站消息
func (c *ConsoleChannel) Send(_ context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Content != "" {
		if _, err := fmt.Fprintln(c.out, msg.Content); err != nil {
			return err
		}
	}
	for _, m := range msg.Media {
		if _, err := fmt.Fprintf(c.out, "[%s %s]\n", m.Type, m.MimeType); err != nil {
			return err
		}
	}
	return nil
}
