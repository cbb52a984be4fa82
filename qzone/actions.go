package qzone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

// LikePost 点赞。已点过的说说直接返回 nil，不发请求
func (c *Client) LikePost(ctx context.Context, target, tid string) error {
	target = session.NormalizeUIN(target)
	key := likeKey(target, tid)
	if c.hasLiked(key) {
		return nil
	}

	err := c.withRetry(ctx, "like", func(s *session.Session) error {
		unikey := fmt.Sprintf("http://user.qzone.qq.com/%s/mood/%s", target, tid)
		form := url.Values{}
		form.Set("qzreferrer", "https://user.qzone.qq.com/"+c.botUIN)
		form.Set("opuin", c.botUIN)
		form.Set("unikey", unikey)
		form.Set("curkey", unikey)
		form.Set("appid", shuoshuoAppID)
		form.Set("from", "1")
		form.Set("typeid", "0")
		form.Set("abstime", strconv.FormatInt(time.Now().Unix(), 10))
		form.Set("fid", tid)
		form.Set("active", "0")
		form.Set("format", "json")
		form.Set("fupdate", "1")

		data, err := c.send(ctx, s, request{
			endpoint: "like",
			method:   http.MethodPost,
			url:      c.endpoints.Like,
			query:    url.Values{"g_tk": {gtk(s)}},
			form:     form,
			write:    true,
		})
		if err != nil {
			return err
		}
		if code, ok := responseCode(data); ok && code != 0 && !alreadyLiked(data) {
			return fmt.Errorf("like returned code %d: %s", code, responseMessage(data))
		}
		return nil
	})
	c.metrics.RecordAction("like", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return err
		}
		return &types.LikeError{Target: target, TID: tid, Err: err}
	}

	c.rememberLiked(key)
	logger.Debug("post liked", zap.String("target", target), zap.String("tid", tid))
	return nil
}

// alreadyLiked 远端返回“已经赞过”
func alreadyLiked(data []byte) bool {
	msg := responseMessage(data)
	return strings.Contains(msg, "已赞") || strings.Contains(msg, "赞过")
}

func (c *Client) hasLiked(key string) bool {
	c.likedMu.Lock()
	defer c.likedMu.Unlock()
	_, ok := c.liked[key]
	return ok
}

func (c *Client) rememberLiked(key string) {
	c.likedMu.Lock()
	defer c.likedMu.Unlock()
	if _, ok := c.liked[key]; ok {
		return
	}
	c.liked[key] = struct{}{}
	c.likedOrder = append(c.likedOrder, key)
	if len(c.likedOrder) > maxLikedMemory {
		oldest := c.likedOrder[0]
		c.likedOrder = c.likedOrder[1:]
		delete(c.liked, oldest)
	}
}

func likeKey(target, tid string) string {
	return session.NormalizeUIN(target) + "/" + tid
}

// CommentPost 评论说说
func (c *Client) CommentPost(ctx context.Context, target, tid, text string) error {
	target = session.NormalizeUIN(target)
	form := url.Values{}
	form.Set("topicId", fmt.Sprintf("%s_%s__1", target, tid))
	form.Set("uin", c.botUIN)
	form.Set("hostUin", target)
	form.Set("feedsType", "100")
	form.Set("inCharset", "utf-8")
	form.Set("outCharset", "utf-8")
	form.Set("plat", "qzone")
	form.Set("source", "ic")
	form.Set("platformid", "52")
	form.Set("format", "fs")
	form.Set("ref", "feeds")
	form.Set("content", text)

	err := c.postComment(ctx, "comment", c.endpoints.Comment, form)
	c.metrics.RecordAction("comment", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return err
		}
		return &types.CommentError{Target: target, TID: tid, Err: err}
	}
	logger.Debug("comment posted", zap.String("target", target), zap.String("tid", tid))
	return nil
}

// ReplyComment 在 target 的说说 tid 下回复 nick 的评论 commentTID
func (c *Client) ReplyComment(ctx context.Context, target, tid, commentTID, nick, text string) error {
	target = session.NormalizeUIN(target)
	form := url.Values{}
	form.Set("topicId", fmt.Sprintf("%s_%s__1", target, tid))
	form.Set("uin", c.botUIN)
	form.Set("hostUin", target)
	form.Set("content", fmt.Sprintf("回复@%s：%s", nick, text))
	form.Set("format", "fs")
	form.Set("plat", "qzone")
	form.Set("source", "ic")
	form.Set("platformid", "52")
	form.Set("ref", "feeds")
	form.Set("richtype", "")
	form.Set("richval", "")
	form.Set("paramstr", "@"+nick)

	err := c.postComment(ctx, "reply", c.endpoints.Reply, form)
	c.metrics.RecordAction("reply", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return err
		}
		return &types.CommentError{Target: target, TID: commentTID, Err: err}
	}
	logger.Debug("comment replied", zap.String("tid", tid), zap.String("comment_tid", commentTID))
	return nil
}

// postComment 评论与回复共用的提交逻辑，返回体为 frameElement.callback 页面
func (c *Client) postComment(ctx context.Context, endpoint, target string, form url.Values) error {
	return c.withSession(ctx, func(s *session.Session) error {
		data, err := c.send(ctx, s, request{
			endpoint: endpoint,
			method:   http.MethodPost,
			url:      target,
			query:    url.Values{"g_tk": {gtk(s)}},
			form:     form,
			write:    true,
		})
		if err != nil {
			return err
		}
		if code, ok := responseCode(data); ok && code != 0 {
			return fmt.Errorf("%s returned code %d: %s", endpoint, code, responseMessage(data))
		}
		return nil
	})
}
