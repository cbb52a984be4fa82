package agent

import (
	"regexp"
	"strings"
)

// IntentKind 指令类别
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentPost
	IntentRead
	IntentRelogin
)

func (k IntentKind) String() string {
	switch k {
	case IntentPost:
		return "post"
	case IntentRead:
		return "read"
	case IntentRelogin:
		return "relogin"
	default:
		return "none"
	}
}

// Intent 从消息中识别出的意图
type Intent struct {
	Kind  IntentKind
	Topic string
	// Target 读说说的对象，"我" 解析为发送者本人
	Target string
	// Usage 命令格式不对时给用户的提示
	Usage string
}

var (
	postPattern = regexp.MustCompile(`发(?:一)?条(?:关于(.+?)的)?说说`)
	readPattern = regexp.MustCompile(`看看(.+?)的(?:说说|空间|动态)`)
	qqPattern   = regexp.MustCompile(`\d{5,12}`)
)

// ParseIntent 识别斜杠命令，addressed 为真（私聊或被 @）时也识别自然语言
func ParseIntent(content string, addressed bool) Intent {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "/") {
		return parseCommand(text)
	}
	if !addressed {
		return Intent{}
	}

	if m := readPattern.FindStringSubmatch(text); m != nil {
		who := strings.TrimSpace(m[1])
		if who == "我" {
			return Intent{Kind: IntentRead, Target: "我"}
		}
		if qq := qqPattern.FindString(who); qq != "" {
			return Intent{Kind: IntentRead, Target: qq}
		}
		return Intent{Kind: IntentRead, Usage: "要看谁的说说？请告诉我对方的QQ号或者@对方"}
	}
	if m := postPattern.FindStringSubmatch(text); m != nil {
		return Intent{Kind: IntentPost, Topic: strings.TrimSpace(m[1])}
	}
	return Intent{}
}

func parseCommand(text string) Intent {
	name, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/send_feed", "/发说说":
		return Intent{Kind: IntentPost, Topic: rest}
	case "/read_feed", "/读说说":
		qq := qqPattern.FindString(rest)
		if qq == "" {
			return Intent{Kind: IntentRead, Usage: "用法：/read_feed <QQ号>"}
		}
		return Intent{Kind: IntentRead, Target: qq}
	case "/relogin":
		return Intent{Kind: IntentRelogin}
	default:
		return Intent{}
	}
}
