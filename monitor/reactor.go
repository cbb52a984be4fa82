package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/qzone"
	"github.com/smallnest/maizone/store"
	"go.uber.org/zap"
)

// Reaction 对一条说说要做的事
type Reaction struct {
	Comment bool
	Like    bool
}

// Outcome 处理结果
type Outcome struct {
	// Skipped 之前已经处理过
	Skipped     bool
	Commented   bool
	CommentText string
	Liked       bool
}

// Reactor 评论、点赞、回复评论并写入已处理记录
type Reactor struct {
	client FeedClient
	writer Writer
	store  store.SeenStore
	locker *Locker

	now       func() time.Time
	sleep     SleepFunc
	replyWait func() time.Duration
}

// NewReactor 创建 Reactor
func NewReactor(client FeedClient, writer Writer, seen store.SeenStore, locker *Locker) *Reactor {
	if locker == nil {
		locker = NewLocker()
	}
	return &Reactor{
		client: client,
		writer: writer,
		store:  seen,
		locker: locker,
		now:    time.Now,
		sleep:  Sleep,
		replyWait: func() time.Duration {
			return 10*time.Second + time.Duration(rand.Float64()*float64(10*time.Second))
		},
	}
}

// Locker 返回共享的账号锁
func (r *Reactor) Locker() *Locker { return r.locker }

// Seen 说说是否已处理
func (r *Reactor) Seen(ctx context.Context, post qzone.Post) (bool, error) {
	return r.store.Seen(ctx, post.Owner, post.TID)
}

// React 按 want 评论、点赞，然后记录为已处理。
// 已处理的说说直接跳过；什么都不做或评论和点赞都失败时不记录，之后还会处理。
func (r *Reactor) React(ctx context.Context, ownerName string, post qzone.Post, want Reaction) (Outcome, error) {
	if !want.Comment && !want.Like {
		return Outcome{}, nil
	}
	unlock := r.locker.Lock(post.Owner)
	defer unlock()

	seen, err := r.store.Seen(ctx, post.Owner, post.TID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check seen post: %w", err)
	}
	if seen {
		return Outcome{Skipped: true}, nil
	}

	var (
		out  Outcome
		errs []error
	)
	if want.Comment && r.writer != nil {
		text, err := r.writer.Comment(ctx, ownerName, post)
		if err == nil {
			err = r.client.CommentPost(ctx, post.Owner, post.TID, text)
		}
		if err != nil {
			logger.Warn("Failed to comment post",
				zap.String("owner", post.Owner),
				zap.String("tid", post.TID),
				zap.Error(err))
			errs = append(errs, err)
		} else {
			out.Commented = true
			out.CommentText = text
		}
	}
	if want.Like {
		if post.Liked {
			out.Liked = true
		} else if err := r.client.LikePost(ctx, post.Owner, post.TID); err != nil {
			logger.Warn("Failed to like post",
				zap.String("owner", post.Owner),
				zap.String("tid", post.TID),
				zap.Error(err))
			errs = append(errs, err)
		} else {
			out.Liked = true
		}
	}

	if len(errs) > 0 && !out.Commented && !out.Liked {
		return out, errors.Join(errs...)
	}
	if err := r.store.MarkSeen(ctx, post.Owner, post.TID, r.now()); err != nil {
		return out, fmt.Errorf("mark seen post: %w", err)
	}
	return out, nil
}

// ReplyComments 回复机器人自己说说下还没回复过的主评论，返回回复条数。
// 机器人发出的 parent_tid=X 的评论表示 X 已回复，回复过的评论也会写入记录。
func (r *Reactor) ReplyComments(ctx context.Context, post qzone.Post) (int, error) {
	if r.writer == nil {
		return 0, nil
	}
	bot := r.client.BotUIN()

	answered := make(map[string]bool)
	for _, c := range post.Comments {
		if c.ParentTID != "" && c.UIN == bot {
			answered[c.ParentTID] = true
		}
	}

	unlock := r.locker.Lock(post.Owner)
	defer unlock()

	replied := 0
	for _, c := range post.Comments {
		if c.TID == "" || c.ParentTID != "" || c.UIN == bot || answered[c.TID] {
			continue
		}
		key := store.CommentKey(post.TID, c.TID)
		seen, err := r.store.Seen(ctx, post.Owner, key)
		if err != nil {
			return replied, fmt.Errorf("check replied comment: %w", err)
		}
		if seen {
			continue
		}

		if replied > 0 {
			if err := r.sleep(ctx, r.replyWait()); err != nil {
				return replied, err
			}
		}

		text, err := r.writer.Reply(ctx, postText(post), c)
		if err != nil {
			return replied, fmt.Errorf("generate reply: %w", err)
		}
		if err := r.client.ReplyComment(ctx, post.Owner, post.TID, c.TID, c.Nickname, text); err != nil {
			return replied, err
		}
		if err := r.store.MarkSeen(ctx, post.Owner, key, r.now()); err != nil {
			return replied, fmt.Errorf("mark replied comment: %w", err)
		}
		replied++
		logger.Info("Replied to comment",
			zap.String("tid", post.TID),
			zap.String("comment_tid", c.TID),
			zap.String("nickname", c.Nickname))
	}
	return replied, nil
}

func postText(p qzone.Post) string {
	if p.Content != "" {
		return p.Content
	}
	return p.RepostContent
}
