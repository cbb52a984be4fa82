package agent

import "testing"

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		addressed bool
		want      Intent
	}{
		{name: "send feed with topic", content: "/send_feed 春天的花", want: Intent{Kind: IntentPost, Topic: "春天的花"}},
		{name: "send feed without topic", content: "/send_feed", want: Intent{Kind: IntentPost}},
		{name: "read feed", content: "/read_feed 20002", want: Intent{Kind: IntentRead, Target: "20002"}},
		{name: "read feed at", content: "/read_feed @20002", want: Intent{Kind: IntentRead, Target: "20002"}},
		{name: "read feed missing qq", content: "/read_feed", want: Intent{Kind: IntentRead, Usage: "用法：/read_feed <QQ号>"}},
		{name: "relogin", content: "/relogin", want: Intent{Kind: IntentRelogin}},
		{name: "unknown command", content: "/help", want: Intent{}},
		{name: "natural post", content: "帮我发一条关于周末的说说", addressed: true, want: Intent{Kind: IntentPost, Topic: "周末"}},
		{name: "natural post no topic", content: "发条说说吧", addressed: true, want: Intent{Kind: IntentPost}},
		{name: "natural read", content: "看看@20002的空间", addressed: true, want: Intent{Kind: IntentRead, Target: "20002"}},
		{name: "natural read self", content: "看看我的动态", addressed: true, want: Intent{Kind: IntentRead, Target: "我"}},
		{name: "natural read unknown", content: "看看小明的说说", addressed: true, want: Intent{Kind: IntentRead, Usage: "要看谁的说说？请告诉我对方的QQ号或者@对方"}},
		{name: "natural ignored when not addressed", content: "发一条关于周末的说说", want: Intent{}},
		{name: "chatter", content: "今天吃什么", addressed: true, want: Intent{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseIntent(tt.content, tt.addressed); got != tt.want {
				t.Fatalf("ParseIntent(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}
