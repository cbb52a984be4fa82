package qzone

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// shuoshuoAppID 说说的应用 ID，其余应用（广告、相册等）忽略
const shuoshuoAppID = "311"

// FetchFriendFeeds 读取机器人好友动态（含自己的说说），保持接口返回顺序
func (c *Client) FetchFriendFeeds(ctx context.Context, count int) ([]Post, error) {
	if count <= 0 {
		count = 10
	}

	var posts []Post
	err := c.withRetry(ctx, "feeds", func(s *session.Session) error {
		data, err := c.send(ctx, s, request{
			endpoint: "feeds",
			url:      c.endpoints.Feeds,
			query: url.Values{
				"uin":             {c.botUIN},
				"scope":           {"0"},
				"view":            {"1"},
				"filter":          {"all"},
				"flag":            {"1"},
				"applist":         {"all"},
				"pagenum":         {"1"},
				"count":           {strconv.Itoa(count)},
				"aisortEndTime":   {"0"},
				"aisortOffset":    {"0"},
				"aisortBeginTime": {"0"},
				"begintime":       {"0"},
				"format":          {"json"},
				"g_tk":            {gtk(s)},
				"useutf8":         {"1"},
				"outputhtmlfeed":  {"1"},
			},
		})
		if err != nil {
			return err
		}
		parsed, err := parseFriendFeeds(data)
		if err != nil {
			return err
		}
		posts = parsed
		return nil
	})
	c.metrics.RecordAction("feeds", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return nil, err
		}
		return nil, &types.FetchError{Target: c.botUIN, Reason: types.FailureReasonUnknown, Err: err}
	}
	if len(posts) > count {
		posts = posts[:count]
	}
	// 动态里已显示为已赞的说说不再重复点赞
	for _, p := range posts {
		if p.Liked {
			c.rememberLiked(likeKey(p.Owner, p.TID))
		}
	}
	return posts, nil
}

// parseFriendFeeds 解析 feeds3_html_more 的返回
func parseFriendFeeds(data []byte) ([]Post, error) {
	obj := extractJSON(data)
	if obj == "" {
		return nil, fmt.Errorf("unexpected feeds response")
	}
	root := gjson.Parse(obj)
	if code := root.Get("code"); code.Exists() && code.Int() != 0 {
		return nil, fmt.Errorf("feeds code %d: %s", code.Int(), root.Get("message").String())
	}

	var posts []Post
	root.Get("data.data").ForEach(func(_, feed gjson.Result) bool {
		if !feed.IsObject() || feed.Get("appid").String() != shuoshuoAppID {
			return true
		}
		owner := feed.Get("uin").String()
		tid := feed.Get("key").String()
		body := feed.Get("html").String()
		if owner == "" || tid == "" || body == "" {
			logger.Debug("skip malformed feed", zap.String("owner", owner), zap.String("tid", tid))
			return true
		}

		post, err := parseFeedHTML(owner, tid, body)
		if err != nil {
			logger.Debug("skip unparsable feed", zap.String("tid", tid), zap.Error(err))
			return true
		}
		if ts, err := strconv.ParseInt(feed.Get("abstime").String(), 10, 64); err == nil && ts > 0 {
			post.CreatedAt = time.Unix(ts, 0)
		}
		if !post.Readable() {
			return true
		}
		posts = append(posts, post)
		return true
	})
	return posts, nil
}

// parseFeedHTML 从动态的 HTML 片段中提取正文、图片、视频与评论
func parseFeedHTML(owner, tid, body string) (Post, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Post{}, err
	}

	post := Post{Owner: owner, TID: tid}

	likeBtn := doc.Find("a.qz_like_btn_v3").First()
	if likeBtn.Length() == 0 {
		likeBtn = doc.Find("a[data-islike]").First()
	}
	post.Liked = likeBtn.AttrOr("data-islike", "") == "1"

	post.Content = cleanText(doc.Find("div.f-info").First().Text())

	if box := doc.Find("div.txt-box").First(); box.Length() > 0 {
		rt := cleanText(box.Text())
		if _, after, ok := strings.Cut(rt, "："); ok {
			rt = strings.TrimSpace(after)
		}
		post.RepostContent = rt
	}

	seen := make(map[string]bool)
	addImage := func(src string) {
		if src == "" || seen[src] || strings.HasPrefix(src, "http://qzonestyle.gtimg.cn") {
			return
		}
		seen[src] = true
		post.Images = append(post.Images, src)
	}
	doc.Find("div.img-box").First().Find("img").Each(func(_ int, img *goquery.Selection) {
		addImage(img.AttrOr("src", ""))
	})
	doc.Find("div.video-img img").First().Each(func(_ int, img *goquery.Selection) {
		addImage(img.AttrOr("src", ""))
	})

	if video := doc.Find("div.img-box.f-video-wrap.play").First(); video.Length() > 0 {
		if u := video.AttrOr("url3", ""); u != "" {
			post.Videos = append(post.Videos, u)
		}
	}

	doc.Find("li.comments-item.bor3").Each(func(_ int, item *goquery.Selection) {
		content := item.Find("div.comments-content").First()
		content.Find("div.comments-op").Remove()

		comment := Comment{
			TID:      item.AttrOr("data-tid", ""),
			UIN:      item.AttrOr("data-uin", ""),
			Nickname: item.AttrOr("data-nick", ""),
			Content:  strings.Join(strings.Fields(content.Text()), " "),
		}
		if sub := item.Closest("div.mod-comments-sub"); sub.Length() > 0 {
			comment.ParentTID = sub.Closest("li.comments-item").AttrOr("data-tid", "")
		}
		post.Comments = append(post.Comments, comment)
	})

	return post, nil
}
