// Package agent 处理聊天通道进来的指令：识别意图、检查权限、执行动作并回复。
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/smallnest/maizone/bus"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/permission"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

// SessionController 重新登录需要的操作，*session.Manager 实现了它
type SessionController interface {
	Reset()
	Acquire(ctx context.Context) (*session.Session, error)
}

// Options Agent 依赖
type Options struct {
	Bus      *bus.MessageBus
	Post     *PostAction
	Read     *ReadAction
	Sessions SessionController
	// Admins 可以执行 /relogin 的账号
	Admins []string
}

// Agent 消费入站消息并回复
type Agent struct {
	bus      *bus.MessageBus
	post     *PostAction
	read     *ReadAction
	sessions SessionController
	admins   []string

	dispatch *dispatcher
}

// New 创建 Agent
func New(opts Options) *Agent {
	a := &Agent{
		bus:      opts.Bus,
		post:     opts.Post,
		read:     opts.Read,
		sessions: opts.Sessions,
		admins:   opts.Admins,
	}
	a.dispatch = newDispatcher(a.process)
	return a
}

// Run 持续消费入站消息，直到 ctx 结束或消息总线关闭
func (a *Agent) Run(ctx context.Context) error {
	defer a.dispatch.Wait()
	for {
		msg, err := a.bus.ConsumeInbound(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrBusClosed) || ctx.Err() != nil {
				logger.Info("Agent message processor stopped")
				return nil
			}
			logger.Error("Failed to consume inbound", zap.Error(err))
			continue
		}
		if ahead := a.dispatch.Dispatch(ctx, msg); ahead > 0 {
			a.notifyQueued(ctx, msg, ahead)
		}
	}
}

// notifyQueued 前面还有任务时先告诉用户在排队，闲聊消息不回复
func (a *Agent) notifyQueued(ctx context.Context, msg *bus.InboundMessage, ahead int) {
	intent := ParseIntent(msg.Content, msg.Addressed())
	if intent.Kind == IntentNone || intent.Usage != "" {
		return
	}
	notice := fmt.Sprintf("收到，前面还有%d个任务，稍等一下", ahead)
	if err := a.bus.PublishOutbound(ctx, msg.Reply(notice)); err != nil {
		logger.Warn("Failed to publish queued notice", zap.Error(err))
	}
}

func (a *Agent) process(ctx context.Context, msg *bus.InboundMessage) {
	reply, ok := a.Handle(ctx, msg)
	if !ok {
		return
	}
	if err := a.bus.PublishOutbound(ctx, msg.Reply(reply)); err != nil {
		logger.Warn("Failed to publish reply", zap.String("channel", msg.Channel), zap.Error(err))
	}
}

// Handle 处理一条消息，返回回复内容；不是给机器人的指令时 ok 为 false
func (a *Agent) Handle(ctx context.Context, msg *bus.InboundMessage) (reply string, ok bool) {
	intent := ParseIntent(msg.Content, msg.Addressed())
	if intent.Kind == IntentNone {
		return "", false
	}
	if intent.Usage != "" {
		return intent.Usage, true
	}

	requester := permission.Identity{ID: msg.SenderID, Nickname: msg.SenderName}
	logger.Info("Intent recognised",
		zap.String("intent", intent.Kind.String()),
		zap.String("channel", msg.Channel),
		zap.String("requester", requester.ID))

	switch intent.Kind {
	case IntentPost:
		res, err := a.post.Run(ctx, requester, intent.Topic)
		if err != nil {
			return failure("post", err), true
		}
		return fmt.Sprintf("发好了：%s", res.Text), true

	case IntentRead:
		target := intent.Target
		if target == "我" {
			target = requester.ID
		}
		res, err := a.read.Run(ctx, requester, target)
		if err != nil {
			return failure("read", err), true
		}
		return res.Summary(), true

	case IntentRelogin:
		return a.relogin(ctx, requester), true
	}
	return "", false
}

func (a *Agent) relogin(ctx context.Context, requester permission.Identity) string {
	if a.sessions == nil || !slices.Contains(a.admins, strings.TrimSpace(requester.ID)) {
		return types.UserMessage(&types.PermissionDenied{UserID: requester.ID, Capability: "relogin"})
	}
	a.sessions.Reset()
	s, err := a.sessions.Acquire(ctx)
	if err != nil {
		return failure("relogin", err)
	}
	return fmt.Sprintf("重新登录成功（%s）", s.Strategy)
}

func failure(action string, err error) string {
	if !types.IsPermissionDenied(err) {
		logger.Warn("Action failed", zap.String("action", action), zap.Error(err))
	}
	return types.UserMessage(err)
}
