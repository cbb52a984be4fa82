package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/monitor"
	"github.com/smallnest/maizone/permission"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

// PostAction 权限检查后发一条说说
type PostAction struct {
	Filter    *permission.Filter
	Publisher *monitor.Publisher
}

// Run 以 requester 身份发说说
func (a *PostAction) Run(ctx context.Context, requester permission.Identity, topic string) (*monitor.Published, error) {
	if !a.Filter.IsAllowed(requester, permission.CapabilityPost) {
		logger.Info("Post rejected by permission filter", zap.String("requester", requester.ID))
		return nil, &types.PermissionDenied{UserID: requester.ID, Capability: string(permission.CapabilityPost)}
	}
	return a.Publisher.Publish(ctx, topic)
}

// ReadResult 读说说的结果
type ReadResult struct {
	Target    string
	Posts     int
	New       int
	Liked     int
	Commented int
	Previews  []string
}

// ReadAction 权限检查后读取对方说说，按概率评论点赞
type ReadAction struct {
	Filter  *permission.Filter
	Client  monitor.FeedClient
	Reactor *monitor.Reactor
	Config  config.ReadConfig

	rand  func() float64
	sleep monitor.SleepFunc
}

// NewReadAction 创建读说说动作
func NewReadAction(filter *permission.Filter, client monitor.FeedClient, reactor *monitor.Reactor, cfg config.ReadConfig) *ReadAction {
	return &ReadAction{
		Filter:  filter,
		Client:  client,
		Reactor: reactor,
		Config:  cfg,
		rand:    rand.Float64,
		sleep:   monitor.Sleep,
	}
}

// Run 以 requester 身份读取 target 的最近说说
func (a *ReadAction) Run(ctx context.Context, requester permission.Identity, target string) (*ReadResult, error) {
	if !a.Filter.IsAllowed(requester, permission.CapabilityRead) {
		logger.Info("Read rejected by permission filter",
			zap.String("requester", requester.ID),
			zap.String("target", target))
		return nil, &types.PermissionDenied{UserID: requester.ID, Capability: string(permission.CapabilityRead)}
	}

	number := a.Config.Number
	if number <= 0 {
		number = 5
	}
	posts, err := a.Client.FetchRecentPosts(ctx, target, number)
	if err != nil {
		return nil, err
	}

	res := &ReadResult{Target: target, Posts: len(posts)}
	reacted := 0
	for _, p := range posts {
		res.Previews = append(res.Previews, preview(p.Content, p.RepostContent))

		seen, err := a.Reactor.Seen(ctx, p)
		if err != nil {
			return res, err
		}
		if seen {
			continue
		}
		res.New++

		want := monitor.Reaction{
			Comment: a.rand() < a.Config.CommentProbability,
			Like:    a.rand() < a.Config.LikeProbability,
		}
		// 只看不动的说说不写记录，监控仍会处理
		if !want.Comment && !want.Like {
			continue
		}
		if reacted > 0 {
			if err := a.sleep(ctx, 3*time.Second+time.Duration(a.rand()*float64(time.Second))); err != nil {
				return res, err
			}
		}
		reacted++

		out, err := a.Reactor.React(ctx, target, p, want)
		if err != nil {
			if types.IsAuth(err) || ctx.Err() != nil {
				return res, err
			}
			logger.Warn("Failed to react to post", zap.String("target", target), zap.String("tid", p.TID), zap.Error(err))
			continue
		}
		if out.Liked {
			res.Liked++
		}
		if out.Commented {
			res.Commented++
		}
	}
	return res, nil
}

// Summary 面向用户的结果描述
func (r *ReadResult) Summary() string {
	if r.Posts == 0 {
		return fmt.Sprintf("%s 最近没有可以看的说说", r.Target)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "看了 %s 的 %d 条说说", r.Target, r.Posts)
	if r.Liked > 0 || r.Commented > 0 {
		fmt.Fprintf(&b, "，点赞 %d 条，评论 %d 条", r.Liked, r.Commented)
	}
	for i, p := range r.Previews {
		fmt.Fprintf(&b, "\n%d. %s", i+1, p)
	}
	return b.String()
}

func preview(content, repost string) string {
	text := content
	if repost != "" {
		text = strings.TrimSpace(content + " 转发：" + repost)
	}
	if text == "" {
		return "[图片]"
	}
	r := []rune(text)
	if len(r) > 30 {
		return string(r[:30]) + "…"
	}
	return text
}
