// Package monitor 轮询好友空间并自动评论点赞，定时发说说。
//
// Reactor 和 Publisher 也被前台的读说说、发说说动作复用，
// 同一账号的已处理记录写入通过 Locker 串行化。
package monitor

import (
	"context"
	"time"

	"github.com/smallnest/maizone/qzone"
)

// FeedClient 用到的空间接口，*qzone.Client 实现了它
type FeedClient interface {
	BotUIN() string
	FetchRecentPosts(ctx context.Context, target string, count int) ([]qzone.Post, error)
	FetchFriendFeeds(ctx context.Context, count int) ([]qzone.Post, error)
	LikePost(ctx context.Context, target, tid string) error
	CommentPost(ctx context.Context, target, tid, text string) error
	ReplyComment(ctx context.Context, target, tid, commentTID, nick, text string) error
	PublishPost(ctx context.Context, text string, images []qzone.Image) (*qzone.PostResult, error)
	SendHistory(ctx context.Context, n int) (string, error)
}

// Writer 文案生成，*persona.Writer 实现了它
type Writer interface {
	Post(ctx context.Context, topic, history string) (string, error)
	Comment(ctx context.Context, ownerName string, post qzone.Post) (string, error)
	Reply(ctx context.Context, postContent string, c qzone.Comment) (string, error)
}

// ImagePicker 配图，*imagegen.Picker 实现了它
type ImagePicker interface {
	Pick(ctx context.Context, postText string) ([]qzone.Image, error)
}

// SleepFunc 可取消的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep 等待 d，ctx 结束时提前返回
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
