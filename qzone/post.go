package qzone

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Post 一条说说
type Post struct {
	Owner         string    `json:"owner"`
	TID           string    `json:"tid"`
	Content       string    `json:"content"`
	RepostContent string    `json:"repost_content,omitempty"`
	Images        []string  `json:"images,omitempty"`
	Videos        []string  `json:"videos,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Comments      []Comment `json:"comments,omitempty"`
	// Liked 机器人是否已经点过赞，仅好友动态提供
	Liked bool `json:"liked"`
}

// Readable 是否有可读的正文
func (p Post) Readable() bool {
	return p.Content != "" || p.RepostContent != "" || len(p.Images) > 0 || len(p.Videos) > 0
}

// IsRepost 是否为转发
func (p Post) IsRepost() bool { return p.RepostContent != "" }

// Comment 说说下的评论或回复
type Comment struct {
	TID string `json:"tid"`
	// ParentTID 非空表示这是对某条评论的回复
	ParentTID string    `json:"parent_tid,omitempty"`
	UIN       string    `json:"uin"`
	Nickname  string    `json:"nickname"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Image 待上传的图片
type Image struct {
	Name string
	Data []byte
}

// PostResult 发布结果
type PostResult struct {
	TID string `json:"tid"`
}

var (
	textPolicy   = bluemonday.StrictPolicy()
	emojiPattern = regexp.MustCompile(`\[em\]e\d+\[/em\]`)
	spacePattern = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// cleanText 去掉 HTML 标签和空间表情代码，得到纯文本
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	s = emojiPattern.ReplaceAllString(s, "")
	s = textPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
