package qzone

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// FetchRecentPosts 读取 target 最近的说说，按时间倒序，最多 count 条。
// 无法解析或没有正文的条目会被跳过。
func (c *Client) FetchRecentPosts(ctx context.Context, target string, count int) ([]Post, error) {
	target = session.NormalizeUIN(target)
	if count <= 0 {
		count = 5
	}

	var posts []Post
	err := c.withRetry(ctx, "msglist", func(s *session.Session) error {
		data, err := c.send(ctx, s, request{
			endpoint: "msglist",
			url:      c.endpoints.List,
			query: url.Values{
				"g_tk":                 {gtk(s)},
				"uin":                  {target},
				"ftype":                {"0"},
				"sort":                 {"0"},
				"pos":                  {"0"},
				"num":                  {strconv.Itoa(count)},
				"replynum":             {"100"},
				"callback":             {"_preloadCallback"},
				"code_version":         {"1"},
				"format":               {"jsonp"},
				"need_comment":         {"1"},
				"need_private_comment": {"1"},
			},
			referer: "https://user.qzone.qq.com/" + target,
		})
		if err != nil {
			return err
		}
		parsed, err := parseMsgList(target, data)
		if err != nil {
			return err
		}
		posts = parsed
		return nil
	})
	c.metrics.RecordAction("read", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return nil, err
		}
		var fetchErr *types.FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &types.FetchError{Target: target, Reason: types.FailureReasonUnknown, Err: err}
	}

	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

// parseMsgList 解析 emotion_cgi_msglist_v6 的返回
func parseMsgList(target string, data []byte) ([]Post, error) {
	obj := extractJSON(data)
	if obj == "" || !gjson.Valid(obj) {
		return nil, &types.FetchError{Target: target, Reason: types.FailureReasonUnknown, Err: fmt.Errorf("unexpected msglist response")}
	}

	root := gjson.Parse(obj)
	if code := root.Get("code").Int(); code != 0 {
		reason := types.FailureReasonUnknown
		if forbiddenCodes[code] {
			reason = types.FailureReasonForbidden
		}
		return nil, &types.FetchError{
			Target: target,
			Reason: reason,
			Err:    fmt.Errorf("msglist code %d: %s", code, root.Get("message").String()),
		}
	}

	var (
		posts   []Post
		skipped int
	)
	root.Get("msglist").ForEach(func(_, msg gjson.Result) bool {
		post, ok := parseMsg(target, msg)
		if !ok {
			skipped++
			return true
		}
		posts = append(posts, post)
		return true
	})
	if skipped > 0 {
		logger.Debug("skipped unreadable posts", zap.String("target", target), zap.Int("count", skipped))
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

// parseMsg 解析单条说说，ok 为 false 表示应跳过
func parseMsg(target string, msg gjson.Result) (Post, bool) {
	if !msg.IsObject() {
		return Post{}, false
	}
	tid := msg.Get("tid").String()
	if tid == "" {
		return Post{}, false
	}

	owner := msg.Get("uin").String()
	if owner == "" {
		owner = target
	}
	post := Post{
		Owner:         owner,
		TID:           tid,
		Content:       cleanText(msg.Get("content").String()),
		RepostContent: cleanText(msg.Get("rt_con.content").String()),
	}
	if ts := msg.Get("created_time").Int(); ts > 0 {
		post.CreatedAt = time.Unix(ts, 0)
	}

	msg.Get("pic").ForEach(func(_, pic gjson.Result) bool {
		for _, key := range []string{"url1", "pic_id", "smallurl"} {
			if u := pic.Get(key).String(); strings.HasPrefix(u, "http") {
				post.Images = append(post.Images, u)
				break
			}
		}
		return true
	})
	msg.Get("video").ForEach(func(_, video gjson.Result) bool {
		if cover := firstNonEmpty(video.Get("url1").String(), video.Get("pic_url").String()); cover != "" {
			post.Images = append(post.Images, cover)
		}
		if u := video.Get("url3").String(); u != "" {
			post.Videos = append(post.Videos, u)
		}
		return true
	})
	msg.Get("commentlist").ForEach(func(_, cm gjson.Result) bool {
		comment := Comment{
			TID:      cm.Get("tid").String(),
			UIN:      cm.Get("uin").String(),
			Nickname: cm.Get("name").String(),
			Content:  cleanText(cm.Get("content").String()),
		}
		if ts := cm.Get("create_time").Int(); ts > 0 {
			comment.CreatedAt = time.Unix(ts, 0)
		}
		post.Comments = append(post.Comments, comment)
		return true
	})

	if !post.Readable() {
		return Post{}, false
	}
	return post, true
}

// SendHistory 机器人最近发过的说说，格式化后用于生成新说说的提示词
func (c *Client) SendHistory(ctx context.Context, n int) (string, error) {
	posts, err := c.FetchRecentPosts(ctx, c.botUIN, n)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("===================\n")
	for _, p := range posts {
		when := p.CreatedAt.Format("2006-01-02 15:04:05")
		if p.IsRepost() {
			fmt.Fprintf(&b, "时间：%s。\n转发了一条说说，内容为：%s\n对该说说的评论为：%s\n", when, p.RepostContent, p.Content)
		} else {
			fmt.Fprintf(&b, "时间：%s。\n说说内容：%s\n", when, p.Content)
		}
		if len(p.Images) > 0 {
			fmt.Fprintf(&b, "图片：%d 张\n", len(p.Images))
		}
		b.WriteString("===================\n")
	}
	return b.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
