package persona

import (
	"regexp"
	"strings"
)

var (
	thinkPattern  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	prefixPattern = regexp.MustCompile(`^(说说|说说内容|正文|评论|回复|prompt|Prompt|提示词)\s*[:：]\s*`)
	atPattern     = regexp.MustCompile(`@\S+\s*`)
)

// quotePairs 模型喜欢包在外面的引号
var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"‘", "’"},
	{"「", "」"},
	{"『", "』"},
}

// Clean 去掉模型输出中的思考段、前缀、外层引号和 @
func Clean(s string) string {
	s = thinkPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	for {
		before := s
		s = prefixPattern.ReplaceAllString(s, "")
		s = trimQuotes(s)
		s = strings.TrimSpace(s)
		if s == before {
			break
		}
	}
	s = atPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func trimQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return s[len(q[0]) : len(s)-len(q[1])]
		}
	}
	return s
}
