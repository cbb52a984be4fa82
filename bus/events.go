package bus

import (
	"time"
)

// 会话类型
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

// MetaAtBot 群聊中是否 @ 了机器人，取值 "true"/"false"
const MetaAtBot = "at_bot"

// InboundMessage 入站消息
type InboundMessage struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`   // napcat, console, gateway
	SenderID   string            `json:"sender_id"` // 发送者 QQ 号
	SenderName string            `json:"sender_name"`
	ChatID     string            `json:"chat_id"`   // 私聊为对方 QQ 号，群聊为群号
	ChatType   string            `json:"chat_type"` // private, group
	Content    string            `json:"content"`
	Media      []Media           `json:"media"`
	Metadata   map[string]string `json:"metadata"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Media 媒体文件
type Media struct {
	Type     string `json:"type"`     // image
	URL      string `json:"url"`      // 文件URL
	Base64   string `json:"base64"`   // Base64编码内容
	MimeType string `json:"mimetype"` // MIME类型
}

// SessionKey 返回会话键
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatType + ":" + m.ChatID
}

// Addressed 私聊或群里 @ 了机器人
func (m *InboundMessage) Addressed() bool {
	return m.ChatType == ChatTypePrivate || m.Metadata[MetaAtBot] == "true"
}

// Reply 构造回到同一会话的出站消息
func (m *InboundMessage) Reply(content string) *OutboundMessage {
	return &OutboundMessage{
		Channel:  m.Channel,
		ChatID:   m.ChatID,
		ChatType: m.ChatType,
		Content:  content,
		ReplyTo:  m.ID,
	}
}

// OutboundMessage 出站消息
type OutboundMessage struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	ChatType  string    `json:"chat_type"`
	Content   string    `json:"content"`
	Media     []Media   `json:"media"`
	ReplyTo   string    `json:"reply_to"` // 回复的消息ID
	Timestamp time.Time `json:"timestamp"`
}
