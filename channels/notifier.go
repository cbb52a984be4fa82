package channels

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/smallnest/maizone/bus"
)

// AdminNotifier 通过通道私聊管理员发送登录二维码
type AdminNotifier struct {
	Bus     *bus.MessageBus
	Channel string
	Admins  []string
}

// Present 把二维码图片发给每个管理员
func (n *AdminNotifier) Present(ctx context.Context, png []byte) error {
	if len(n.Admins) == 0 {
		return errors.New("no admins configured for qrcode delivery")
	}
	channel := n.Channel
	if channel == "" {
		channel = NapcatChannelName
	}

	encoded := base64.StdEncoding.EncodeToString(png)
	var errs []error
	for _, admin := range n.Admins {
		err := n.Bus.PublishOutbound(ctx, &bus.OutboundMessage{
			Channel:  channel,
			ChatID:   admin,
			ChatType: bus.ChatTypePrivate,
			Content:  "QQ空间登录已失效，请用手机QQ扫描二维码重新登录",
			Media:    []bus.Media{{Type: "image", Base64: encoded, MimeType: "image/png"}},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify admin %s: %w", admin, err))
		}
	}
	if len(errs) == len(n.Admins) {
		return errors.Join(errs...)
	}
	return nil
}
